package expr

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/cloudstep/orchestrate/internal/plan"
)

// Context holds the runtime variables available to guard expressions.
type Context struct {
	Target  string
	Params  map[string]string
	Outputs map[string]plan.Outputs
}

func (c *Context) env() map[string]interface{} {
	outputs := make(map[string]interface{}, len(c.Outputs))
	for step, out := range c.Outputs {
		m := make(map[string]interface{}, len(out))
		for k, v := range out {
			m[k] = v
		}
		outputs[step] = m
	}
	params := make(map[string]interface{}, len(c.Params))
	for k, v := range c.Params {
		params[k] = v
	}
	return map[string]interface{}{
		"target":  c.Target,
		"params":  params,
		"outputs": outputs,
	}
}

// Eval evaluates a compiled guard against the given context.
func Eval(compiled *CompiledExpr, ctx *Context) (interface{}, error) {
	if compiled == nil || compiled.program == nil {
		return nil, fmt.Errorf("nil compiled expression")
	}
	result, err := expr.Run(compiled.program, ctx.env())
	if err != nil {
		return nil, fmt.Errorf("expression eval error for %q: %w", compiled.Source, err)
	}
	return result, nil
}

// EvalBool evaluates a compiled guard and returns its boolean result.
// Returns an error if the expression does not evaluate to a boolean.
func EvalBool(compiled *CompiledExpr, ctx *Context) (bool, error) {
	result, err := Eval(compiled, ctx)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, expected bool", compiled.Source, result)
	}
	return b, nil
}
