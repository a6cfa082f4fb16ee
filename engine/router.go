package engine

import (
	"github.com/liamcoop/automation/internal/logger"
)

// Router decides which rules fire for an event and, within each firing rule,
// which actions satisfy their own optional conditions. Routing is a pure
// function of its inputs: the same event and rule set always yield the same
// matches, in rule-supplied order.
type Router struct {
	expressions *ExpressionEngine
}

// NewRouter creates a router. expressions may be nil when no rule uses CEL
// trigger expressions.
func NewRouter(expressions *ExpressionEngine) *Router {
	return &Router{expressions: expressions}
}

// Route evaluates the candidate rules against the event. Disabled rules,
// rules not triggered by the event's kind, rules whose trigger condition
// fails, and rules where no action condition passes are all excluded.
func (r *Router) Route(event NormalizedEvent, rules []*Rule, fieldTypes map[string]FieldType) []RuleMatch {
	ctx := EvalContext{
		Fields:       event.Fields,
		BeforeFields: event.BeforeFields,
		RecordID:     event.RecordID,
		TriggerKind:  event.Kind,
		OperatorID:   event.OperatorID,
		FieldTypes:   fieldTypes,
	}

	var matches []RuleMatch
	for _, rule := range rules {
		match, ok := r.matchRule(rule, ctx)
		if ok {
			matches = append(matches, match)
		}
	}
	return matches
}

// matchRule evaluates the rule-level trigger before any per-action
// conditions; a failed trigger rejects the whole rule without touching its
// actions.
func (r *Router) matchRule(rule *Rule, ctx EvalContext) (RuleMatch, bool) {
	if !rule.Enabled || !rule.Triggers(ctx.TriggerKind) {
		return RuleMatch{}, false
	}

	if rule.TriggerCondition != nil {
		ok, err := EvaluateCondition(rule.TriggerCondition, ctx)
		if err != nil {
			logger.Warn("trigger condition evaluation failed",
				"rule_id", rule.ID,
				"error", err,
			)
			return RuleMatch{}, false
		}
		if !ok {
			return RuleMatch{}, false
		}
	}

	if rule.TriggerExpression != "" && r.expressions != nil {
		ok, err := r.expressions.Evaluate(rule.ID, rule.TriggerExpression, ctx)
		if err != nil {
			logger.Warn("trigger expression evaluation failed",
				"rule_id", rule.ID,
				"error", err,
			)
			return RuleMatch{}, false
		}
		if !ok {
			return RuleMatch{}, false
		}
	}

	var matched []RuleAction
	for _, action := range rule.Actions {
		if action.Condition == nil {
			matched = append(matched, action)
			continue
		}
		ok, err := EvaluateCondition(action.Condition, ctx)
		if err != nil {
			logger.Warn("action condition evaluation failed",
				"rule_id", rule.ID,
				"action", action.Name,
				"error", err,
			)
			continue
		}
		if ok {
			matched = append(matched, action)
		}
	}

	// A rule whose trigger passed but with zero satisfied actions does not
	// fire.
	if len(matched) == 0 {
		return RuleMatch{}, false
	}

	return RuleMatch{Rule: rule, Actions: matched}, true
}
