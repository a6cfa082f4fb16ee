package engine

import (
	"fmt"
)

// knownOperators is the union of every operator a field-type handler or the
// fallback table understands. Rule validation rejects anything outside it so
// configuration errors surface at save time instead of during routing.
var knownOperators = map[string]bool{
	"equals":       true,
	"not_equals":   true,
	"contains":     true,
	"not_contains": true,
	">":            true,
	"<":            true,
	">=":           true,
	"<=":           true,
	"exists":       true,
	"not_exists":   true,
	"changed":      true,
	"between":      true,
	"in":           true,
}

var validKinds = map[EventKind]bool{
	EventCreated: true,
	EventUpdated: true,
	EventDeleted: true,
}

// ValidateRule checks a rule configuration before it is stored. expressions
// may be nil when CEL trigger expressions are not in use; a rule carrying one
// is then rejected.
func ValidateRule(rule *Rule, expressions *ExpressionEngine) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if rule.SourceID == "" {
		return fmt.Errorf("rule %q must reference a source", rule.Name)
	}

	if len(rule.TriggerKinds) == 0 {
		return fmt.Errorf("rule %q must declare at least one trigger kind", rule.Name)
	}
	for _, kind := range rule.TriggerKinds {
		if !validKinds[kind] {
			return fmt.Errorf("rule %q has invalid trigger kind %q (must be one of: created, updated, deleted)", rule.Name, kind)
		}
	}

	if err := validateCondition(rule.TriggerCondition); err != nil {
		return fmt.Errorf("rule %q trigger condition: %w", rule.Name, err)
	}

	if rule.TriggerExpression != "" {
		if expressions == nil {
			return fmt.Errorf("rule %q carries a trigger expression but expression support is disabled", rule.Name)
		}
		if err := expressions.Check(rule.TriggerExpression); err != nil {
			return fmt.Errorf("rule %q trigger expression: %w", rule.Name, err)
		}
	}

	if len(rule.Actions) == 0 {
		return fmt.Errorf("rule %q must contain at least one action", rule.Name)
	}
	for i, action := range rule.Actions {
		if action.ActionType == "" {
			return fmt.Errorf("rule %q action %d has empty action type", rule.Name, i)
		}
		if err := validateCondition(action.Condition); err != nil {
			return fmt.Errorf("rule %q action %q condition: %w", rule.Name, action.Name, err)
		}
	}

	switch rule.OnFailure {
	case FailureContinue, FailureStop:
	default:
		return fmt.Errorf("rule %q has invalid failure policy %q (must be continue or stop)", rule.Name, rule.OnFailure)
	}

	return nil
}

func validateCondition(cond *Condition) error {
	if cond == nil {
		return nil
	}
	if cond.Logic != logicAnd && cond.Logic != logicOr {
		return fmt.Errorf("invalid logic %q (must be AND or OR)", cond.Logic)
	}
	if len(cond.Expressions) == 0 {
		return fmt.Errorf("condition must contain at least one expression")
	}
	for _, expr := range cond.Expressions {
		if expr.Field == "" {
			return fmt.Errorf("expression field cannot be empty")
		}
		if !knownOperators[expr.Operator] {
			return fmt.Errorf("%w: %s", ErrUnknownOperator, expr.Operator)
		}
	}
	return nil
}
