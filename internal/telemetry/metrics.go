package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudstep/orchestrate/internal/plan"
)

// Metrics collects Prometheus metrics for the executor. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stepsInFlight prometheus.Gauge
}

// NewMetrics creates a metrics set on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orchestrate",
				Subsystem: "executor",
				Name:      "steps_total",
				Help:      "Total number of executed steps by action and final status",
			},
			[]string{"action", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "orchestrate",
				Subsystem: "executor",
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17min
			},
			[]string{"action"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orchestrate",
				Subsystem: "executor",
				Name:      "retries_total",
				Help:      "Total number of step retry attempts by action",
			},
			[]string{"action"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orchestrate",
				Subsystem: "executor",
				Name:      "runs_total",
				Help:      "Total number of runs by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "orchestrate",
				Subsystem: "executor",
				Name:      "run_duration_seconds",
				Help:      "Duration of whole runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
			},
		),
		stepsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "orchestrate",
				Subsystem: "executor",
				Name:      "steps_in_flight",
				Help:      "Number of steps currently executing",
			},
		),
	}
	m.registry.MustRegister(
		m.stepsTotal,
		m.stepDuration,
		m.retriesTotal,
		m.runsTotal,
		m.runDuration,
		m.stepsInFlight,
	)
	return m
}

// Handler returns an HTTP handler exposing the registry in Prometheus text
// format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStep records a finished step.
func (m *Metrics) RecordStep(action plan.Action, status plan.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(string(action), string(status)).Inc()
	if status == plan.StatusSucceeded || status == plan.StatusFailed {
		m.stepDuration.WithLabelValues(string(action)).Observe(d.Seconds())
	}
}

// RecordRetry records one retry attempt for an action.
func (m *Metrics) RecordRetry(action plan.Action) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(string(action)).Inc()
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(status plan.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(status)).Inc()
	m.runDuration.Observe(d.Seconds())
}

// StepStarted marks a step as in flight.
func (m *Metrics) StepStarted() {
	if m == nil {
		return
	}
	m.stepsInFlight.Inc()
}

// StepFinished marks a step as no longer in flight.
func (m *Metrics) StepFinished() {
	if m == nil {
		return
	}
	m.stepsInFlight.Dec()
}
