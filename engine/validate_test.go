package engine

import (
	"errors"
	"testing"
)

func validRule() *Rule {
	return &Rule{
		ID:           "r1",
		Name:         "escalate",
		Enabled:      true,
		SourceID:     "src_1",
		TriggerKinds: []EventKind{EventUpdated},
		TriggerCondition: &Condition{
			Logic: "AND",
			Expressions: []ConditionExpression{
				{Field: "Priority", Operator: ">", Value: float64(2)},
			},
		},
		Actions: []RuleAction{
			{Name: "notify", ActionType: "call_api", Params: map[string]any{"url": "http://example.com"}},
		},
		OnFailure: FailureContinue,
	}
}

func TestValidateRuleAccepts(t *testing.T) {
	if err := ValidateRule(validRule(), nil); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
}

func TestValidateRuleRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"empty name", func(r *Rule) { r.Name = "" }},
		{"empty source", func(r *Rule) { r.SourceID = "" }},
		{"no trigger kinds", func(r *Rule) { r.TriggerKinds = nil }},
		{"invalid kind", func(r *Rule) { r.TriggerKinds = []EventKind{"archived"} }},
		{"bad logic", func(r *Rule) { r.TriggerCondition.Logic = "XOR" }},
		{"empty expressions", func(r *Rule) { r.TriggerCondition.Expressions = nil }},
		{"empty field", func(r *Rule) { r.TriggerCondition.Expressions[0].Field = "" }},
		{"unknown operator", func(r *Rule) { r.TriggerCondition.Expressions[0].Operator = "regex_match" }},
		{"no actions", func(r *Rule) { r.Actions = nil }},
		{"empty action type", func(r *Rule) { r.Actions[0].ActionType = "" }},
		{"bad action condition", func(r *Rule) {
			r.Actions[0].Condition = &Condition{Logic: "AND"}
		}},
		{"bad failure policy", func(r *Rule) { r.OnFailure = "retry" }},
		{"expression without engine", func(r *Rule) { r.TriggerExpression = `kind == "updated"` }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			if err := ValidateRule(rule, nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateRuleUnknownOperatorSentinel(t *testing.T) {
	rule := validRule()
	rule.TriggerCondition.Expressions[0].Operator = "regex_match"

	err := ValidateRule(rule, nil)
	if !errors.Is(err, ErrUnknownOperator) {
		t.Errorf("expected ErrUnknownOperator, got %v", err)
	}
}

func TestValidateRuleWithExpression(t *testing.T) {
	expressions, err := NewExpressionEngine()
	if err != nil {
		t.Fatalf("failed to create expression engine: %v", err)
	}

	rule := validRule()
	rule.TriggerExpression = `fields.Priority > 2.0`
	if err := ValidateRule(rule, expressions); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}

	rule.TriggerExpression = `fields.Priority >`
	if err := ValidateRule(rule, expressions); err == nil {
		t.Error("expected malformed expression rejected")
	}
}
