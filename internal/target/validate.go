package target

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudstep/orchestrate/internal/expr"
	"github.com/cloudstep/orchestrate/internal/interp"
	"github.com/cloudstep/orchestrate/internal/plan"
)

// Validate checks the file field by field and reports every problem at once,
// each prefixed with the path of the offending field.
func (f *File) Validate() error {
	var errs []error

	if f.Target == "" {
		errs = append(errs, errors.New("target: name is required"))
	} else if !isValidName(f.Target) {
		errs = append(errs, fmt.Errorf("target: %q must be lowercase alphanumeric with hyphens, starting with a letter", f.Target))
	}
	if f.Defaults.MaxAttempts < 0 {
		errs = append(errs, errors.New("defaults.max_attempts: must not be negative"))
	}
	if f.Defaults.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("defaults.timeout_seconds: must not be negative"))
	}

	names := make(map[string]bool, len(f.Steps))
	for i, s := range f.Steps {
		if s.Name == "" {
			continue
		}
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("steps[%d].name: duplicate step %q", i, s.Name))
		}
		names[s.Name] = true
	}

	for i, s := range f.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if !isValidName(s.Name) {
			errs = append(errs, fmt.Errorf("%s.name: %q must be lowercase alphanumeric with hyphens, starting with a letter", path, s.Name))
		}
		if !plan.Action(s.Action).Valid() {
			errs = append(errs, fmt.Errorf("%s.action: unknown action %q (valid: %s)", path, s.Action, actionList()))
		}
		if s.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("%s.max_attempts: must not be negative", path))
		}
		if s.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout_seconds: must not be negative", path))
		}

		deps := make(map[string]bool, len(s.DependsOn))
		for _, d := range s.DependsOn {
			if d == s.Name {
				errs = append(errs, fmt.Errorf("%s.depends_on: step depends on itself", path))
				continue
			}
			if !names[d] {
				errs = append(errs, fmt.Errorf("%s.depends_on: unknown step %q", path, d))
			}
			deps[d] = true
		}

		for k, v := range s.Params {
			for _, r := range interp.Refs(v) {
				dep, _, dotted := interp.StepRef(r)
				if !dotted {
					if _, ok := f.Params[r]; !ok {
						errs = append(errs, fmt.Errorf("%s.params.%s: unknown parameter %q", path, k, r))
					}
					continue
				}
				if !deps[dep] {
					errs = append(errs, fmt.Errorf("%s.params.%s: %q references step %q which is not a declared dependency", path, k, r, dep))
				}
			}
		}

		if s.When != "" {
			if err := expr.ValidateSyntax(s.When); err != nil {
				errs = append(errs, fmt.Errorf("%s.when: %v", path, err))
			}
		}
	}

	return errors.Join(errs...)
}

func actionList() string {
	actions := plan.Actions()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

// isValidName reports whether s is usable as a target or step name:
// lowercase alphanumeric and hyphens, starting with a letter, ending with a
// letter or digit.
func isValidName(s string) bool {
	if len(s) == 0 || len(s) > 63 {
		return false
	}
	if s[0] < 'a' || s[0] > 'z' {
		return false
	}
	last := s[len(s)-1]
	if (last < 'a' || last > 'z') && (last < '0' || last > '9') {
		return false
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}
