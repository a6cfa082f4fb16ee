package engine

import (
	"testing"
)

func updateEvent() NormalizedEvent {
	return NormalizedEvent{
		EventID:  "evt_1",
		SourceID: "src_1",
		RecordID: "rec_1",
		Kind:     EventUpdated,
		Fields: map[string]any{
			"Status":   "Open",
			"Priority": float64(3),
		},
	}
}

func baseRule(id string) *Rule {
	return &Rule{
		ID:           id,
		Name:         "rule " + id,
		Enabled:      true,
		SourceID:     "src_1",
		TriggerKinds: []EventKind{EventUpdated},
		Actions: []RuleAction{
			{Name: "first", ActionType: "noop"},
			{Name: "second", ActionType: "noop"},
		},
		OnFailure: FailureContinue,
	}
}

func TestRouteKindFilter(t *testing.T) {
	router := NewRouter(nil)

	created := baseRule("r1")
	created.TriggerKinds = []EventKind{EventCreated}
	updated := baseRule("r2")

	matches := router.Route(updateEvent(), []*Rule{created, updated}, nil)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Rule.ID != "r2" {
		t.Errorf("expected rule r2, got %s", matches[0].Rule.ID)
	}
}

func TestRouteDisabledRuleExcluded(t *testing.T) {
	router := NewRouter(nil)

	rule := baseRule("r1")
	rule.Enabled = false

	matches := router.Route(updateEvent(), []*Rule{rule}, nil)
	if len(matches) != 0 {
		t.Fatalf("disabled rule must not match, got %d matches", len(matches))
	}
}

func TestRouteTriggerCondition(t *testing.T) {
	router := NewRouter(nil)

	pass := baseRule("r1")
	pass.TriggerCondition = &Condition{Logic: "AND", Expressions: []ConditionExpression{
		{Field: "Status", Operator: "equals", Value: "Open"},
	}}
	fail := baseRule("r2")
	fail.TriggerCondition = &Condition{Logic: "AND", Expressions: []ConditionExpression{
		{Field: "Status", Operator: "equals", Value: "Closed"},
	}}

	matches := router.Route(updateEvent(), []*Rule{pass, fail}, nil)
	if len(matches) != 1 || matches[0].Rule.ID != "r1" {
		t.Fatalf("expected only r1 to match, got %v", matches)
	}
	if len(matches[0].Actions) != 2 {
		t.Errorf("expected both actions matched, got %d", len(matches[0].Actions))
	}
}

func TestRouteActionConditionsFilterActions(t *testing.T) {
	router := NewRouter(nil)

	rule := baseRule("r1")
	rule.Actions = []RuleAction{
		{
			Name:       "matching",
			ActionType: "noop",
			Condition: &Condition{Logic: "AND", Expressions: []ConditionExpression{
				{Field: "Status", Operator: "equals", Value: "Open"},
			}},
		},
		{
			Name:       "non-matching",
			ActionType: "noop",
			Condition: &Condition{Logic: "AND", Expressions: []ConditionExpression{
				{Field: "Status", Operator: "equals", Value: "Closed"},
			}},
		},
		{Name: "unconditional", ActionType: "noop"},
	}

	matches := router.Route(updateEvent(), []*Rule{rule}, nil)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	actions := matches[0].Actions
	if len(actions) != 2 {
		t.Fatalf("expected 2 matched actions, got %d", len(actions))
	}
	// Declaration order preserved.
	if actions[0].Name != "matching" || actions[1].Name != "unconditional" {
		t.Errorf("unexpected action order: %s, %s", actions[0].Name, actions[1].Name)
	}
}

func TestRouteNoMatchedActionsMeansNoFire(t *testing.T) {
	router := NewRouter(nil)

	rule := baseRule("r1")
	rule.Actions = []RuleAction{
		{
			Name:       "never",
			ActionType: "noop",
			Condition: &Condition{Logic: "AND", Expressions: []ConditionExpression{
				{Field: "Status", Operator: "equals", Value: "Closed"},
			}},
		},
	}

	matches := router.Route(updateEvent(), []*Rule{rule}, nil)
	if len(matches) != 0 {
		t.Fatal("rule with zero satisfied actions must not fire")
	}
}

func TestRouteConditionErrorSkipsRule(t *testing.T) {
	router := NewRouter(nil)

	broken := baseRule("r1")
	broken.TriggerCondition = &Condition{Logic: "AND", Expressions: []ConditionExpression{
		{Field: "Status", Operator: "regex_match", Value: ".*"},
	}}
	healthy := baseRule("r2")

	matches := router.Route(updateEvent(), []*Rule{broken, healthy}, nil)
	if len(matches) != 1 || matches[0].Rule.ID != "r2" {
		t.Fatalf("broken rule should be skipped, healthy rule kept; got %d matches", len(matches))
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	router := NewRouter(nil)
	rules := []*Rule{baseRule("r1"), baseRule("r2"), baseRule("r3")}

	first := router.Route(updateEvent(), rules, nil)
	second := router.Route(updateEvent(), rules, nil)

	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected all rules to match, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Rule.ID != second[i].Rule.ID {
			t.Errorf("order differs at %d: %s vs %s", i, first[i].Rule.ID, second[i].Rule.ID)
		}
		if first[i].Rule.ID != rules[i].ID {
			t.Errorf("input order not preserved at %d", i)
		}
	}
}

func TestRouteTriggerExpression(t *testing.T) {
	expressions, err := NewExpressionEngine()
	if err != nil {
		t.Fatalf("failed to create expression engine: %v", err)
	}
	router := NewRouter(expressions)

	rule := baseRule("r1")
	rule.TriggerExpression = `fields.Priority > 2.0 && kind == "updated"`

	matches := router.Route(updateEvent(), []*Rule{rule}, nil)
	if len(matches) != 1 {
		t.Fatalf("expected expression to match, got %d matches", len(matches))
	}

	rule2 := baseRule("r2")
	rule2.TriggerExpression = `fields.Priority > 10.0`
	matches = router.Route(updateEvent(), []*Rule{rule2}, nil)
	if len(matches) != 0 {
		t.Fatal("expected expression to reject the rule")
	}
}
