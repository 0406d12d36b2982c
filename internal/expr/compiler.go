// Package expr provides compile-time validation and runtime evaluation of
// the conditional guard expressions attached to steps via `when:`.
package expr

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// CompiledExpr represents a compiled guard ready for evaluation.
type CompiledExpr struct {
	Source  string
	program *vm.Program
}

// Compile compiles a guard expression for later evaluation. Guards are
// compiled without a typed environment because dependency outputs are only
// known at execution time.
func Compile(source string) (*CompiledExpr, error) {
	if source == "" {
		return nil, fmt.Errorf("empty expression")
	}

	program, err := expr.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("expression compile error: %w", err)
	}

	return &CompiledExpr{
		Source:  source,
		program: program,
	}, nil
}

// ValidateSyntax checks whether an expression is syntactically valid without
// evaluating it. Target file validation runs this over every `when:` guard.
func ValidateSyntax(source string) error {
	if source == "" {
		return fmt.Errorf("empty expression")
	}
	if _, err := expr.Compile(source); err != nil {
		return fmt.Errorf("invalid expression syntax: %w", err)
	}
	return nil
}
