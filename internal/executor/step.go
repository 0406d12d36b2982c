package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudstep/orchestrate/internal/events"
	"github.com/cloudstep/orchestrate/internal/expr"
	"github.com/cloudstep/orchestrate/internal/interp"
	"github.com/cloudstep/orchestrate/internal/plan"
	"github.com/cloudstep/orchestrate/internal/provider"
)

const persistTimeout = 5 * time.Second

// runStep executes a single step end to end: guard, interpolation,
// idempotency check, then the attempt loop. The result it returns is what
// the coordinator records; fatal is set only for state store failures.
func (e *Executor) runStep(ctx context.Context, target string, step plan.Step, deps map[string]plan.Outputs, runID string, logger *slog.Logger) completion {
	fail := func(err error) completion {
		now := time.Now().UTC()
		return completion{name: step.Name, result: plan.StepResult{
			Step:       step.Name,
			Status:     plan.StatusFailed,
			StartedAt:  now,
			FinishedAt: now,
			Error:      err.Error(),
			RunID:      runID,
		}}
	}

	if step.When != "" {
		compiled, err := expr.Compile(step.When)
		if err != nil {
			return fail(fmt.Errorf("guard: %w", err))
		}
		ok, err := expr.EvalBool(compiled, &expr.Context{
			Target:  target,
			Params:  step.Params,
			Outputs: deps,
		})
		if err != nil {
			return fail(fmt.Errorf("guard: %w", err))
		}
		if !ok {
			return completion{name: step.Name, result: plan.StepResult{
				Step:   step.Name,
				Status: plan.StatusSkipped,
				Reason: plan.ReasonConditionFalse,
				RunID:  runID,
			}}
		}
	}

	resolved, err := interp.ResolveParams(step.Params, deps)
	if err != nil {
		return fail(err)
	}
	key := plan.Key(step.Action, resolved)

	prior, found, err := e.store.Get(ctx, target, step.Name, key)
	if err != nil {
		c := fail(err)
		c.fatal = err
		return c
	}
	if found && prior.Status == plan.StatusSucceeded {
		return completion{name: step.Name, result: plan.StepResult{
			Step:    step.Name,
			Status:  plan.StatusSkipped,
			Reason:  plan.ReasonUpToDate,
			Outputs: prior.Outputs.Clone(),
			Key:     key,
			RunID:   runID,
		}}
	}

	resolvedStep := step
	resolvedStep.Params = resolved

	maxAttempts := step.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := plan.StepResult{
		Step:      step.Name,
		StartedAt: time.Now().UTC(),
		Key:       key,
		RunID:     runID,
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			result.Status = plan.StatusFailed
			result.Error = fmt.Sprintf("canceled: %v", ctx.Err())
			result.FinishedAt = time.Now().UTC()
			return completion{name: step.Name, result: result}
		}

		// Persist the running marker before touching the provider so a
		// crash mid-step leaves a record that forces re-execution.
		result.Attempts = attempt
		result.Status = plan.StatusRunning
		if err := e.store.Put(ctx, target, step.Name, key, result); err != nil {
			result.Status = plan.StatusFailed
			result.Error = err.Error()
			result.FinishedAt = time.Now().UTC()
			return completion{name: step.Name, result: result, fatal: err}
		}

		out, err := e.invoke(ctx, resolvedStep, deps)
		result.FinishedAt = time.Now().UTC()

		if err == nil {
			result.Status = plan.StatusSucceeded
			result.Outputs = out
			result.Error = ""
			return e.finish(target, step.Name, key, result)
		}

		if errors.Is(err, ErrTimeout) {
			result.Status = plan.StatusFailed
			result.Error = err.Error()
			result.TimedOut = true
			return e.finish(target, step.Name, key, result)
		}

		if ctx.Err() != nil {
			result.Status = plan.StatusFailed
			result.Error = fmt.Sprintf("canceled: %v", err)
			return e.finish(target, step.Name, key, result)
		}

		if provider.Retryable(err) && attempt < maxAttempts {
			delay := backoffDelay(e.opts.BackoffBase, e.opts.BackoffCap, attempt)
			e.opts.Metrics.RecordRetry(step.Action)
			e.opts.Emitter.Emit(events.New(events.StepRetrying, target, runID).
				WithStep(step.Name).
				WithData("attempt", attempt).
				WithData("delay", delay.String()).
				WithData("error", err.Error()))
			logger.Warn("step retrying", "step", step.Name,
				"attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				result.Status = plan.StatusFailed
				result.Error = fmt.Sprintf("canceled while waiting to retry: %v", err)
				result.FinishedAt = time.Now().UTC()
				return e.finish(target, step.Name, key, result)
			}
		}

		result.Status = plan.StatusFailed
		result.Error = err.Error()
		return e.finish(target, step.Name, key, result)
	}

	// Unreachable: the loop always returns.
	result.Status = plan.StatusFailed
	result.Error = "no attempts executed"
	return completion{name: step.Name, result: result}
}

// finish persists a terminal result. Persistence uses a detached context so
// a cancelled run can still record how its steps ended.
func (e *Executor) finish(target, name, key string, result plan.StepResult) completion {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.store.Put(ctx, target, name, key, result); err != nil {
		result.Status = plan.StatusFailed
		result.Error = err.Error()
		return completion{name: name, result: result, fatal: err}
	}
	return completion{name: name, result: result}
}

type invokeResult struct {
	out plan.Outputs
	err error
}

// invoke calls the provider under the step's hard timeout. On timeout the
// step fails immediately and any late provider result is discarded; on run
// cancellation the provider is allowed to finish, with the coordinator's
// grace timer as the backstop.
func (e *Executor) invoke(ctx context.Context, step plan.Step, deps map[string]plan.Outputs) (plan.Outputs, error) {
	stepCtx := ctx
	cancel := func() {}
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
	}
	defer cancel()

	ch := make(chan invokeResult, 1)
	go func() {
		out, err := e.provider.Execute(stepCtx, step, deps)
		ch <- invokeResult{out: out, err: err}
	}()

	mapDeadline := func(err error) error {
		if step.Timeout > 0 && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrTimeout, step.Timeout)
		}
		return err
	}

	read := func(r invokeResult) (plan.Outputs, error) {
		if r.err != nil && (errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled)) {
			return nil, mapDeadline(r.err)
		}
		return r.out, r.err
	}

	select {
	case r := <-ch:
		return read(r)
	case <-stepCtx.Done():
		if err := mapDeadline(stepCtx.Err()); errors.Is(err, ErrTimeout) {
			return nil, err
		}
		// Run cancellation rather than a step timeout: wait for the
		// provider's real outcome before reporting.
		return read(<-ch)
	}
}
