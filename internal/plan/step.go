// Package plan defines the deployment step model and builds validated,
// topologically ordered execution plans from step declarations.
package plan

import "time"

// Action identifies a provider operation a step performs.
type Action string

// Supported provider actions.
const (
	ActionCreateCluster Action = "CreateCluster"
	ActionBindIdentity  Action = "BindIdentity"
	ActionBuildImage    Action = "BuildImage"
	ActionPushImage     Action = "PushImage"
	ActionDeploy        Action = "Deploy"
	ActionWaitReady     Action = "WaitReady"
	ActionGrantAccess   Action = "GrantAccess"
)

// Actions returns all supported actions in display order.
func Actions() []Action {
	return []Action{
		ActionCreateCluster,
		ActionBindIdentity,
		ActionBuildImage,
		ActionPushImage,
		ActionDeploy,
		ActionWaitReady,
		ActionGrantAccess,
	}
}

// Valid reports whether a is a supported action.
func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// Step is a single named unit of work in a plan. Params hold the resolved
// target-level parameters; references to dependency outputs remain unresolved
// until execution time.
type Step struct {
	Name        string
	Action      Action
	DependsOn   []string
	Params      map[string]string
	When        string
	MaxAttempts int
	Timeout     time.Duration
}

// Outputs are the named values a step produces for its dependents.
type Outputs map[string]string

// Clone returns an independent copy of o.
func (o Outputs) Clone() Outputs {
	if o == nil {
		return nil
	}
	c := make(Outputs, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}
