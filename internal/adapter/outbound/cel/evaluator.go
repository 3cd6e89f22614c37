// Package cel compiles route conditions written in the Common Expression
// Language.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/swiftdrop/accountgate/internal/domain/guard"
)

const (
	// maxExpressionLength bounds condition source size.
	maxExpressionLength = 1024
	// maxCostBudget bounds runtime cost per evaluation.
	maxCostBudget = 10_000
	// maxNestingDepth bounds bracket nesting.
	maxNestingDepth = 32
	// evalTimeout bounds a single evaluation.
	evalTimeout = 100 * time.Millisecond
	// interruptCheckFreq is how often comprehensions check for cancellation.
	interruptCheckFreq = 100
)

// Compiler compiles route conditions. It implements guard.ConditionCompiler.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a Compiler over NewRouteEnvironment.
func NewCompiler() (*Compiler, error) {
	env, err := NewRouteEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create route environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Validate checks expr without keeping the program.
func (c *Compiler) Validate(expr string) error {
	_, err := c.compile(expr)
	return err
}

// CompileCondition compiles expr into a guard.Condition. The expression must
// evaluate to a bool.
func (c *Compiler) CompileCondition(expr string) (guard.Condition, error) {
	prg, err := c.compile(expr)
	if err != nil {
		return nil, err
	}
	return &condition{expr: expr, prg: prg}, nil
}

func (c *Compiler) compile(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return nil, err
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition %q must return bool, returns %s", expr, ast.OutputType())
	}
	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", expr, err)
	}
	return prg, nil
}

func validateNesting(expr string) error {
	var depth, deepest int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			deepest = max(deepest, depth)
		case ')', ']', '}':
			depth--
		}
	}
	if deepest > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", deepest, maxNestingDepth)
	}
	return nil
}

type condition struct {
	expr string
	prg  cel.Program
}

// Matches evaluates the condition. Errors and non-bool results never match.
func (c *condition) Matches(in guard.ConditionInput) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	out, _, err := c.prg.ContextEval(ctx, activation(in))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T", c.expr, out.Value())
	}
	return b, nil
}

// Compile-time interface verification.
var _ guard.ConditionCompiler = (*Compiler)(nil)
