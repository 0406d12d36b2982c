// Package interp resolves ${...} references in step parameter values.
//
// Two reference forms exist: ${name} resolves against target-level parameters
// and is substituted when the plan is built, while ${step.output} resolves
// against the outputs of a dependency and is substituted just before the step
// executes.
package interp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudstep/orchestrate/internal/plan"
)

var ref = regexp.MustCompile(`\$\{([^}]+)\}`)

// Refs returns every ${...} reference in s, in order of appearance.
func Refs(s string) []string {
	var out []string
	for _, m := range ref.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

// StepRef splits a dotted reference into its step and output names.
// It returns ok=false for plain parameter references.
func StepRef(r string) (step, output string, ok bool) {
	i := strings.Index(r, ".")
	if i <= 0 || i == len(r)-1 {
		return "", "", false
	}
	return r[:i], r[i+1:], true
}

// Static substitutes ${name} parameter references using params. Dotted
// references are left in place for Outputs to resolve later. A plain
// reference with no matching parameter is an error.
func Static(s string, params map[string]string) (string, error) {
	var unresolved []string
	replaced := ref.ReplaceAllStringFunc(s, func(placeholder string) string {
		key := ref.FindStringSubmatch(placeholder)[1]
		if _, _, dotted := StepRef(key); dotted {
			return placeholder
		}
		v, ok := params[key]
		if !ok {
			unresolved = append(unresolved, key)
			return placeholder
		}
		return v
	})
	if len(unresolved) > 0 {
		return "", fmt.Errorf("unknown parameter %q in %q", unresolved[0], s)
	}
	return replaced, nil
}

// Outputs substitutes ${step.output} references using the outputs of the
// named steps. A reference to a step absent from outputs, or to an output
// the step did not produce, is an error.
func Outputs(s string, outputs map[string]plan.Outputs) (string, error) {
	var resolveErr error
	replaced := ref.ReplaceAllStringFunc(s, func(placeholder string) string {
		key := ref.FindStringSubmatch(placeholder)[1]
		step, output, dotted := StepRef(key)
		if !dotted {
			return placeholder
		}
		stepOut, ok := outputs[step]
		if !ok {
			if resolveErr == nil {
				resolveErr = fmt.Errorf("reference %q: no outputs from step %q", key, step)
			}
			return placeholder
		}
		v, ok := stepOut[output]
		if !ok {
			if resolveErr == nil {
				resolveErr = fmt.Errorf("reference %q: step %q produced no output %q", key, step, output)
			}
			return placeholder
		}
		return v
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return replaced, nil
}

// ResolveParams applies Outputs to every value of params and returns the
// resolved copy. The input map is not modified.
func ResolveParams(params map[string]string, outputs map[string]plan.Outputs) (map[string]string, error) {
	if params == nil {
		return nil, nil
	}
	resolved := make(map[string]string, len(params))
	for k, v := range params {
		r, err := Outputs(v, outputs)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		resolved[k] = r
	}
	return resolved, nil
}
