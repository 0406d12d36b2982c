package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors returned by BuildPlan.
var (
	ErrDuplicateStep     = errors.New("duplicate step")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCyclicDependency  = errors.New("cyclic dependency")
)

// Plan is an immutable, topologically ordered set of steps for one target.
type Plan struct {
	Target string
	Steps  []Step // topological order, ties broken by declaration order

	index      map[string]int
	dependents map[string][]string
	waves      [][]string
}

// BuildPlan validates the step graph and returns a plan whose Steps are in
// dependency order. Ordering is deterministic: steps whose dependencies are
// equally satisfied keep their declaration order. The input slice is not
// modified.
func BuildPlan(target string, steps []Step) (*Plan, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if _, exists := index[s.Name]; exists {
			return nil, fmt.Errorf("%w: %q declared twice", ErrDuplicateStep, s.Name)
		}
		index[s.Name] = i
	}

	incoming := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		incoming[s.Name] += 0
		for _, dep := range s.DependsOn {
			if _, exists := index[dep]; !exists {
				return nil, fmt.Errorf("%w: step %q depends on %q", ErrUnknownDependency, s.Name, dep)
			}
			if dep == s.Name {
				return nil, fmt.Errorf("%w: step %q depends on itself", ErrCyclicDependency, s.Name)
			}
			incoming[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	// Kahn's algorithm in rounds. Each round collects every step whose
	// dependencies are all placed, scanning in declaration order so ties
	// resolve deterministically. Steps in one round form a wave and are
	// mutually independent.
	ordered := make([]Step, 0, len(steps))
	var waves [][]string
	placed := make(map[string]bool, len(steps))
	for len(ordered) < len(steps) {
		var wave []string
		for _, s := range steps {
			if !placed[s.Name] && incoming[s.Name] == 0 {
				wave = append(wave, s.Name)
			}
		}
		if len(wave) == 0 {
			var stuck []string
			for _, s := range steps {
				if !placed[s.Name] {
					stuck = append(stuck, s.Name)
				}
			}
			return nil, fmt.Errorf("%w: involving %s", ErrCyclicDependency, strings.Join(stuck, ", "))
		}
		for _, name := range wave {
			placed[name] = true
			ordered = append(ordered, copyStep(steps[index[name]]))
			for _, dependent := range dependents[name] {
				incoming[dependent]--
			}
		}
		waves = append(waves, wave)
	}

	position := make(map[string]int, len(ordered))
	for i, s := range ordered {
		position[s.Name] = i
	}
	return &Plan{
		Target:     target,
		Steps:      ordered,
		index:      position,
		dependents: dependents,
		waves:      waves,
	}, nil
}

// Step returns the named step and whether it exists.
func (p *Plan) Step(name string) (Step, bool) {
	i, ok := p.index[name]
	if !ok {
		return Step{}, false
	}
	return p.Steps[i], true
}

// Names returns step names in execution order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
	}
	return names
}

// Dependents returns the steps that directly depend on name.
func (p *Plan) Dependents(name string) []string {
	return p.dependents[name]
}

// Waves groups step names into rounds where every step in a round is
// independent of the others and of all steps in later rounds.
func (p *Plan) Waves() [][]string {
	return p.waves
}

func copyStep(s Step) Step {
	c := s
	c.DependsOn = append([]string(nil), s.DependsOn...)
	if s.Params != nil {
		c.Params = make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			c.Params[k] = v
		}
	}
	return c
}
