package plan

import "time"

// Status is the lifecycle state of a step within a run.
type Status string

// Step statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether s is a final state for the current run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Skip reasons recorded on skipped step results.
const (
	ReasonUpToDate         = "up-to-date"
	ReasonDependencyFailed = "dependency-failed"
	ReasonConditionFalse   = "condition-false"
)

// StepResult records the outcome of one step execution. Results are persisted
// by the state store and reused across runs for idempotent re-execution.
type StepResult struct {
	Step       string    `json:"step"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Outputs    Outputs   `json:"outputs,omitempty"`
	Key        string    `json:"idempotency_key,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
}

// Duration returns how long the step ran, or zero if it never started.
func (r StepResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
