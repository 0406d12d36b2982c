// Package provider defines the client interface that executes deployment
// actions against an infrastructure platform, and a registry of available
// implementations.
package provider

import (
	"context"

	"github.com/cloudstep/orchestrate/internal/plan"
)

// Client executes a single step against the platform. Implementations run
// with ambient credentials only; no credential material passes through the
// orchestrator.
//
// Execute receives the step with its parameters fully resolved and the
// outputs of its declared dependencies. It returns the step's outputs on
// success. Errors should be wrapped with Transient or Permanent so the
// executor can decide whether a retry is worthwhile; a bare error is treated
// as permanent.
type Client interface {
	// Name returns the provider identifier.
	Name() string

	// Execute performs the step's action and returns its outputs.
	Execute(ctx context.Context, step plan.Step, deps map[string]plan.Outputs) (plan.Outputs, error)
}
