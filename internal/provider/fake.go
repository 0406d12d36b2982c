package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudstep/orchestrate/internal/plan"
)

func init() {
	Register("fake", func() (Client, error) {
		return NewFake(), nil
	})
}

// Fake is an in-memory provider for dry runs and tests. Every action
// succeeds immediately with synthesized outputs unless the test scripts
// failures, delays, or fixed outputs for specific steps.
type Fake struct {
	mu      sync.Mutex
	outputs map[string]plan.Outputs
	errs    map[string][]error
	delays  map[string]time.Duration
	calls   map[string]int
	blocked map[string]chan struct{}
}

// NewFake returns a Fake with no scripted behavior.
func NewFake() *Fake {
	return &Fake{
		outputs: make(map[string]plan.Outputs),
		errs:    make(map[string][]error),
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]int),
		blocked: make(map[string]chan struct{}),
	}
}

// Name implements Client.
func (f *Fake) Name() string { return "fake" }

// SetOutputs fixes the outputs returned for step.
func (f *Fake) SetOutputs(step string, out plan.Outputs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[step] = out.Clone()
}

// FailWith queues errors for step. Each Execute call consumes one queued
// error; once the queue drains, calls succeed.
func (f *Fake) FailWith(step string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[step] = append(f.errs[step], errs...)
}

// Delay makes Execute for step wait d before completing, honoring context
// cancellation.
func (f *Fake) Delay(step string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[step] = d
}

// Block makes Execute for step wait until the returned channel is closed or
// its context ends.
func (f *Fake) Block(step string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.blocked[step] = ch
	return ch
}

// Calls reports how many times Execute ran for step.
func (f *Fake) Calls(step string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[step]
}

// Execute implements Client.
func (f *Fake) Execute(ctx context.Context, step plan.Step, deps map[string]plan.Outputs) (plan.Outputs, error) {
	f.mu.Lock()
	f.calls[step.Name]++
	delay := f.delays[step.Name]
	block := f.blocked[step.Name]
	var queued error
	if q := f.errs[step.Name]; len(q) > 0 {
		queued = q[0]
		f.errs[step.Name] = q[1:]
	}
	fixed, hasFixed := f.outputs[step.Name]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if queued != nil {
		return nil, queued
	}
	if hasFixed {
		return fixed.Clone(), nil
	}
	return synthesize(step), nil
}

// synthesize derives plausible outputs from the step so dry runs show the
// values dependents would interpolate.
func synthesize(step plan.Step) plan.Outputs {
	switch step.Action {
	case plan.ActionCreateCluster:
		return plan.Outputs{
			"clusterId": fmt.Sprintf("fake/clusters/%s", step.Name),
			"endpoint":  "192.0.2.1",
		}
	case plan.ActionBindIdentity:
		return plan.Outputs{
			"serviceAccountId": fmt.Sprintf("%s@fake.iam.example", step.Name),
		}
	case plan.ActionBuildImage:
		return plan.Outputs{
			"imageId": fmt.Sprintf("sha256:%064x", len(step.Name)),
		}
	case plan.ActionPushImage:
		return plan.Outputs{
			"imageDigest": fmt.Sprintf("sha256:%064x", len(step.Name)+1),
		}
	case plan.ActionDeploy:
		return plan.Outputs{
			"deploymentId": fmt.Sprintf("fake/deployments/%s", step.Name),
		}
	case plan.ActionWaitReady:
		return plan.Outputs{
			"ready":      "true",
			"externalIP": "192.0.2.10",
		}
	default:
		return plan.Outputs{}
	}
}
