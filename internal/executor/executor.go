// Package executor runs plans against a provider, persisting every step
// result so interrupted or repeated runs resume instead of redoing finished
// work.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cloudstep/orchestrate/internal/events"
	"github.com/cloudstep/orchestrate/internal/plan"
	"github.com/cloudstep/orchestrate/internal/provider"
	"github.com/cloudstep/orchestrate/internal/state"
	"github.com/cloudstep/orchestrate/internal/telemetry"
)

// ErrTimeout marks a step that exceeded its hard timeout. Timed-out steps
// are never retried.
var ErrTimeout = errors.New("step timed out")

// Defaults for Options left zero.
const (
	DefaultGrace       = 10 * time.Second
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 60 * time.Second
)

// Options configures an Executor.
type Options struct {
	// Parallelism bounds the number of concurrently executing steps.
	Parallelism int

	// Grace is how long a cancelled run waits for in-flight steps before
	// abandoning them.
	Grace time.Duration

	// BackoffBase and BackoffCap shape the retry delay: base doubled per
	// attempt, capped.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Emitter events.Emitter
}

// Executor schedules the steps of a plan respecting dependencies, the
// parallelism bound, and previously persisted results.
type Executor struct {
	provider provider.Client
	store    state.Store
	opts     Options
}

// New creates an executor. Zero option fields take defaults; a nil logger
// discards logs and a nil emitter discards events.
func New(client provider.Client, store state.Store, opts Options) *Executor {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NoopEmitter{}
	}
	return &Executor{provider: client, store: store, opts: opts}
}

type completion struct {
	name   string
	result plan.StepResult
	fatal  error
}

// Run executes the plan. Steps become eligible when all their dependencies
// reach a terminal state; eligible steps run in plan order, up to the
// parallelism bound at once. The returned error is non-nil only for state
// store failures, which abort the run; ordinary step failures are reported
// in the PlanResult.
func (e *Executor) Run(ctx context.Context, p *plan.Plan) (*PlanResult, error) {
	runID := ulid.Make().String()
	start := time.Now()
	logger := telemetry.RunLogger(e.opts.Logger, p.Target, runID)

	res := &PlanResult{
		Target: p.Target,
		RunID:  runID,
		Steps:  make(map[string]plan.StepResult, len(p.Steps)),
	}

	e.opts.Emitter.Emit(events.New(events.RunStarted, p.Target, runID).WithData("steps", len(p.Steps)))
	logger.Info("run started", "steps", len(p.Steps), "parallelism", e.opts.Parallelism)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	status := make(map[string]plan.Status, len(p.Steps))
	remaining := make(map[string]int, len(p.Steps))
	outputs := make(map[string]plan.Outputs, len(p.Steps))
	for _, s := range p.Steps {
		status[s.Name] = plan.StatusPending
		remaining[s.Name] = len(s.DependsOn)
	}

	var ready []string
	for _, s := range p.Steps {
		if remaining[s.Name] == 0 {
			ready = append(ready, s.Name)
		}
	}

	done := make(chan completion, len(p.Steps))
	inFlight := 0
	finished := 0
	aborted := false
	var fatal error
	var graceC <-chan time.Time

	dispatch := func(name string) {
		step, _ := p.Step(name)
		deps := make(map[string]plan.Outputs, len(step.DependsOn))
		for _, d := range step.DependsOn {
			deps[d] = outputs[d]
		}
		status[name] = plan.StatusRunning
		inFlight++
		e.opts.Metrics.StepStarted()
		e.opts.Emitter.Emit(events.New(events.StepRunning, p.Target, runID).WithStep(name))
		logger.Info("step started", "step", name, "action", step.Action)
		go func() {
			done <- e.runStep(runCtx, p.Target, step, deps, runID, logger)
		}()
	}

	abort := func() {
		if aborted {
			return
		}
		aborted = true
		graceC = time.After(e.opts.Grace)
	}

	var cascadeSkip func(name string)
	cascadeSkip = func(name string) {
		for _, dep := range p.Dependents(name) {
			if status[dep] != plan.StatusPending {
				continue
			}
			status[dep] = plan.StatusSkipped
			res.Steps[dep] = plan.StepResult{
				Step:   dep,
				Status: plan.StatusSkipped,
				Reason: plan.ReasonDependencyFailed,
				RunID:  runID,
			}
			finished++
			step, _ := p.Step(dep)
			e.opts.Metrics.RecordStep(step.Action, plan.StatusSkipped, 0)
			e.opts.Emitter.Emit(events.New(events.StepSkipped, p.Target, runID).
				WithStep(dep).WithData("reason", plan.ReasonDependencyFailed))
			logger.Info("step skipped", "step", dep, "reason", plan.ReasonDependencyFailed)
			cascadeSkip(dep)
		}
	}

	handle := func(c completion) {
		inFlight--
		finished++
		e.opts.Metrics.StepFinished()

		if c.fatal != nil && fatal == nil {
			fatal = c.fatal
			logger.Error("state store failure, aborting run", "step", c.name, "error", c.fatal)
			cancelRun()
			abort()
		}

		status[c.name] = c.result.Status
		res.Steps[c.name] = c.result
		step, _ := p.Step(c.name)
		e.opts.Metrics.RecordStep(step.Action, c.result.Status, c.result.Duration())

		switch c.result.Status {
		case plan.StatusSucceeded:
			outputs[c.name] = c.result.Outputs
			e.opts.Emitter.Emit(events.New(events.StepSucceeded, p.Target, runID).
				WithStep(c.name).WithData("attempts", c.result.Attempts))
			logger.Info("step succeeded", "step", c.name,
				"attempts", c.result.Attempts, "duration", c.result.Duration())
			e.release(p, c.name, remaining, status, &ready, aborted)
		case plan.StatusSkipped:
			outputs[c.name] = c.result.Outputs
			e.opts.Emitter.Emit(events.New(events.StepSkipped, p.Target, runID).
				WithStep(c.name).WithData("reason", c.result.Reason))
			logger.Info("step skipped", "step", c.name, "reason", c.result.Reason)
			e.release(p, c.name, remaining, status, &ready, aborted)
		case plan.StatusFailed:
			e.opts.Emitter.Emit(events.New(events.StepFailed, p.Target, runID).
				WithStep(c.name).WithData("error", c.result.Error).
				WithData("attempts", c.result.Attempts))
			logger.Error("step failed", "step", c.name,
				"error", c.result.Error, "attempts", c.result.Attempts)
			cascadeSkip(c.name)
		}
	}

loop:
	for finished < len(p.Steps) {
		for !aborted && len(ready) > 0 && inFlight < e.opts.Parallelism {
			next := ready[0]
			ready = ready[1:]
			dispatch(next)
		}
		if inFlight == 0 {
			// Nothing running and nothing dispatchable.
			break
		}
		if aborted {
			select {
			case c := <-done:
				handle(c)
			case <-graceC:
				for name, st := range status {
					if st == plan.StatusRunning {
						res.Steps[name] = plan.StepResult{
							Step:   name,
							Status: plan.StatusFailed,
							Error:  "abandoned: cancellation grace period elapsed",
							RunID:  runID,
						}
						logger.Warn("step abandoned", "step", name)
					}
				}
				break loop
			}
		} else {
			select {
			case c := <-done:
				handle(c)
			case <-ctx.Done():
				abort()
				logger.Warn("cancellation requested, waiting for in-flight steps",
					"grace", e.opts.Grace)
			}
		}
	}

	for _, s := range p.Steps {
		if _, ok := res.Steps[s.Name]; !ok {
			res.Steps[s.Name] = plan.StepResult{
				Step:   s.Name,
				Status: plan.StatusPending,
				RunID:  runID,
			}
		}
	}

	res.Duration = time.Since(start)
	res.derive()
	e.opts.Metrics.RecordRun(res.Status, res.Duration)
	if res.Status == plan.StatusSucceeded {
		e.opts.Emitter.Emit(events.New(events.RunCompleted, p.Target, runID).
			WithData("duration", res.Duration.String()))
		logger.Info("run completed", "duration", res.Duration)
	} else {
		e.opts.Emitter.Emit(events.New(events.RunFailed, p.Target, runID).
			WithData("status", string(res.Status)))
		logger.Error("run finished with failures", "status", res.Status, "duration", res.Duration)
	}
	return res, fatal
}

// release decrements dependents of name and queues the ones that became
// eligible.
func (e *Executor) release(p *plan.Plan, name string, remaining map[string]int, status map[string]plan.Status, ready *[]string, aborted bool) {
	for _, dep := range p.Dependents(name) {
		remaining[dep]--
		if remaining[dep] == 0 && status[dep] == plan.StatusPending && !aborted {
			*ready = append(*ready, dep)
		}
	}
}
