package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/dripline/dripline/internal/lead"
	"github.com/dripline/dripline/pkg/schema"
)

// conditionEvaluator evaluates CONDITION node configs against lead records.
// Compiled expression programs are cached by source; workflow graphs reuse
// the same handful of expressions across many executions.
type conditionEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{programs: make(map[string]*vm.Program)}
}

// Evaluate returns the boolean outcome of the condition. Field comparisons
// treat a missing or nil path as absent: equals/contains are false against an
// absent field, their negations true.
func (c *conditionEvaluator) Evaluate(cfg *schema.ConditionConfig, rec lead.Record) (bool, error) {
	switch cfg.Operator {
	case schema.OperatorEquals:
		val, ok := rec.GetString(cfg.Field)
		return ok && val == cfg.Value, nil
	case schema.OperatorNotEquals:
		val, ok := rec.GetString(cfg.Field)
		return !ok || val != cfg.Value, nil
	case schema.OperatorContains:
		val, ok := rec.GetString(cfg.Field)
		return ok && strings.Contains(val, cfg.Value), nil
	case schema.OperatorNotContains:
		val, ok := rec.GetString(cfg.Field)
		return !ok || !strings.Contains(val, cfg.Value), nil
	case schema.OperatorExists:
		return rec.Exists(cfg.Field), nil
	case schema.OperatorNotExists:
		return !rec.Exists(cfg.Field), nil
	case schema.OperatorExpression:
		return c.evaluateExpression(cfg.Expression, rec)
	default:
		return false, fmt.Errorf("unknown condition operator %q", cfg.Operator)
	}
}

// evaluateExpression runs an expr program with the lead record bound to the
// `lead` variable. The program must yield a boolean.
func (c *conditionEvaluator) evaluateExpression(source string, rec lead.Record) (bool, error) {
	program, err := c.compile(source)
	if err != nil {
		return false, fmt.Errorf("compile expression: %w", err)
	}

	out, err := expr.Run(program, map[string]any{
		"lead": map[string]any(rec),
	})
	if err != nil {
		return false, fmt.Errorf("run expression: %w", err)
	}

	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out)
	}
	return b, nil
}

func (c *conditionEvaluator) compile(source string) (*vm.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[source]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source,
		expr.Env(map[string]any{"lead": map[string]any{}}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.programs[source] = program
	c.mu.Unlock()
	return program, nil
}
