package engine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ExpressionEngine compiles and evaluates the optional CEL trigger
// expressions rules can carry alongside their structured conditions.
// Compiled programs are cached per rule ID; the cache is safe for concurrent
// reads and compilation.
type ExpressionEngine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewExpressionEngine creates an engine whose environment exposes the event
// state as dynamic variables.
func NewExpressionEngine() (*ExpressionEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("fields", cel.DynType),
		cel.Variable("beforeFields", cel.DynType),
		cel.Variable("recordId", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("operatorId", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ExpressionEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile compiles an expression and caches the program under the rule ID.
// The cost limit guards against runaway expressions.
func (e *ExpressionEngine) Compile(ruleID, expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := e.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return fmt.Errorf("program creation error: %w", err)
	}

	e.mu.Lock()
	e.programs[ruleID] = prog
	e.mu.Unlock()

	return nil
}

// Check validates that an expression compiles without caching a program.
func (e *ExpressionEngine) Check(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}
	return nil
}

// Evict drops the cached program for a rule, forcing recompilation on the
// next evaluation.
func (e *ExpressionEngine) Evict(ruleID string) {
	e.mu.Lock()
	delete(e.programs, ruleID)
	e.mu.Unlock()
}

// Evaluate runs the rule's expression against the evaluation context,
// compiling on cache miss. A non-boolean result is treated as false.
func (e *ExpressionEngine) Evaluate(ruleID, expression string, ctx EvalContext) (bool, error) {
	e.mu.RLock()
	prog, ok := e.programs[ruleID]
	e.mu.RUnlock()

	if !ok {
		if err := e.Compile(ruleID, expression); err != nil {
			return false, err
		}
		e.mu.RLock()
		prog = e.programs[ruleID]
		e.mu.RUnlock()
	}

	fields := ctx.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	before := ctx.BeforeFields
	if before == nil {
		before = map[string]any{}
	}

	out, _, err := prog.Eval(map[string]any{
		"fields":       fields,
		"beforeFields": before,
		"recordId":     ctx.RecordID,
		"kind":         string(ctx.TriggerKind),
		"operatorId":   ctx.OperatorID,
	})
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}

	matched, _ := out.Value().(bool)
	return matched, nil
}
