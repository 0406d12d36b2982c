// Package target loads, validates, and compiles target definition files.
//
// A target file names the deployment target, declares target-level
// parameters, and lists the steps with their actions, dependencies, and
// retry/timeout settings. Plan turns a validated file into an executable
// plan.
package target

import (
	"fmt"
	"time"

	"github.com/cloudstep/orchestrate/internal/interp"
	"github.com/cloudstep/orchestrate/internal/plan"
)

// Defaults applied when neither the step nor the file sets a value.
const (
	DefaultProvider       = "gcloud"
	DefaultMaxAttempts    = 1
	DefaultTimeoutSeconds = 600
)

// File is a parsed target definition.
type File struct {
	Target   string            `yaml:"target" json:"target"`
	Provider string            `yaml:"provider,omitempty" json:"provider,omitempty"`
	Defaults Defaults          `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Params   map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Steps    []StepSpec        `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// Defaults are file-level fallbacks for per-step settings.
type Defaults struct {
	MaxAttempts    int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// StepSpec is one step as written in the target file.
type StepSpec struct {
	Name           string            `yaml:"name" json:"name"`
	Action         string            `yaml:"action" json:"action"`
	DependsOn      []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Params         map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	When           string            `yaml:"when,omitempty" json:"when,omitempty"`
	MaxAttempts    int               `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// ProviderName returns the provider the file selects, or the default.
func (f *File) ProviderName() string {
	if f.Provider == "" {
		return DefaultProvider
	}
	return f.Provider
}

// Plan compiles the file into an executable plan: defaults applied,
// target-level ${param} references substituted, dependency order resolved.
// ${step.output} references are kept for the executor to resolve at run
// time.
func (f *File) Plan() (*plan.Plan, error) {
	steps := make([]plan.Step, 0, len(f.Steps))
	for i, s := range f.Steps {
		maxAttempts := s.MaxAttempts
		if maxAttempts == 0 {
			maxAttempts = f.Defaults.MaxAttempts
		}
		if maxAttempts == 0 {
			maxAttempts = DefaultMaxAttempts
		}
		timeout := s.TimeoutSeconds
		if timeout == 0 {
			timeout = f.Defaults.TimeoutSeconds
		}
		if timeout == 0 {
			timeout = DefaultTimeoutSeconds
		}

		var params map[string]string
		if s.Params != nil {
			params = make(map[string]string, len(s.Params))
			for k, v := range s.Params {
				resolved, err := interp.Static(v, f.Params)
				if err != nil {
					return nil, fmt.Errorf("steps[%d].params.%s: %w", i, k, err)
				}
				params[k] = resolved
			}
		}

		steps = append(steps, plan.Step{
			Name:        s.Name,
			Action:      plan.Action(s.Action),
			DependsOn:   append([]string(nil), s.DependsOn...),
			Params:      params,
			When:        s.When,
			MaxAttempts: maxAttempts,
			Timeout:     time.Duration(timeout) * time.Second,
		})
	}
	return plan.BuildPlan(f.Target, steps)
}
