package executor

import (
	"time"

	"github.com/cloudstep/orchestrate/internal/plan"
)

// PlanResult aggregates the per-step results of one run.
type PlanResult struct {
	Target   string                     `json:"target"`
	RunID    string                     `json:"run_id"`
	Status   plan.Status                `json:"status"`
	Steps    map[string]plan.StepResult `json:"steps"`
	Duration time.Duration              `json:"duration"`
}

// derive computes the run-level status: failed if any step failed, succeeded
// if every step reached a terminal non-failed state, pending otherwise (the
// run was interrupted before all steps finished).
func (r *PlanResult) derive() {
	anyFailed := false
	allTerminal := true
	for _, sr := range r.Steps {
		if sr.Status == plan.StatusFailed {
			anyFailed = true
		}
		if !sr.Status.Terminal() {
			allTerminal = false
		}
	}
	switch {
	case anyFailed:
		r.Status = plan.StatusFailed
	case allTerminal:
		r.Status = plan.StatusSucceeded
	default:
		r.Status = plan.StatusPending
	}
}

// Exit codes for the run command.
const (
	ExitOK         = 0
	ExitConfig     = 1
	ExitStepFailed = 2
	ExitTimeout    = 3
)

// ExitCode maps a run outcome to the process exit code. Fatal errors (state
// store failures) are configuration-class failures. A run whose only
// failures are timeouts exits with the timeout code; any other step failure
// takes precedence.
func ExitCode(res *PlanResult, fatal error) int {
	if fatal != nil {
		return ExitConfig
	}
	if res == nil {
		return ExitConfig
	}
	if res.Status == plan.StatusSucceeded {
		return ExitOK
	}
	sawTimeout := false
	for _, sr := range res.Steps {
		if sr.Status != plan.StatusFailed {
			continue
		}
		if sr.TimedOut {
			sawTimeout = true
		} else {
			return ExitStepFailed
		}
	}
	if sawTimeout {
		return ExitTimeout
	}
	return ExitStepFailed
}
