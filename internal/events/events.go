// Package events defines structured event types emitted over the lifecycle
// of a deployment run.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type represents the kind of event.
type Type string

const (
	RunStarted    Type = "run.started"
	RunCompleted  Type = "run.completed"
	RunFailed     Type = "run.failed"
	StepRunning   Type = "step.running"
	StepSucceeded Type = "step.succeeded"
	StepFailed    Type = "step.failed"
	StepSkipped   Type = "step.skipped"
	StepRetrying  Type = "step.retrying"
)

// Event is a structured event emitted during a run. RunID correlates every
// event belonging to one executor invocation.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Target    string                 `json:"target"`
	RunID     string                 `json:"run_id"`
	Step      string                 `json:"step,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New creates a new event for the given target and run.
func New(eventType Type, target, runID string) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Target:    target,
		RunID:     runID,
	}
}

// WithStep sets the step name and returns the event for chaining.
func (e *Event) WithStep(step string) *Event {
	e.Step = step
	return e
}

// WithData adds a data field to the event and returns it for chaining.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// JSON returns the event serialized as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is the interface for event consumers. Emit may be called from
// concurrently executing steps.
type Emitter interface {
	Emit(event *Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter by discarding the event.
func (NoopEmitter) Emit(*Event) {}

// Collector collects events in memory for testing.
type Collector struct {
	mu     sync.Mutex
	events []*Event
}

// Emit appends the event to the collector.
func (c *Collector) Emit(event *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a snapshot of the collected events.
func (c *Collector) Events() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Event(nil), c.events...)
}

// ByType returns the collected events matching t, in emission order.
func (c *Collector) ByType(t Type) []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
