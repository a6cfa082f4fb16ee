package engine

import "time"

// EventKind classifies a record change.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// FieldType tags a field with the evaluation semantics its values carry.
// Unknown field keys default to FieldText.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldNumber       FieldType = "number"
	FieldSingleSelect FieldType = "singleSelect"
	FieldMultiSelect  FieldType = "multiSelect"
	FieldUser         FieldType = "user"
	FieldDate         FieldType = "date"
	FieldCheckbox     FieldType = "checkbox"
	FieldLink         FieldType = "link"
)

// NormalizedEvent is the canonical, source-agnostic representation of a single
// record change. It is constructed by an event parser and never mutated.
type NormalizedEvent struct {
	EventID      string         `json:"event_id"`
	SourceID     string         `json:"source_id"`
	RecordID     string         `json:"record_id"`
	Kind         EventKind      `json:"kind"`
	OperatorID   string         `json:"operator_id,omitempty"`
	Fields       map[string]any `json:"fields"`
	BeforeFields map[string]any `json:"before_fields,omitempty"`
}

// ConditionExpression is a single field/operator/value test.
// Field is a dot-path into the event's fields.
type ConditionExpression struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Condition combines expressions with AND or OR logic.
// A nil *Condition always evaluates to true.
type Condition struct {
	Logic       string                `json:"logic"` // "AND" or "OR"
	Expressions []ConditionExpression `json:"expressions"`
}

// FailurePolicy controls whether remaining actions run after a failure.
type FailurePolicy string

const (
	FailureContinue FailurePolicy = "continue"
	FailureStop     FailurePolicy = "stop"
)

// RuleAction is one action within a rule, guarded by an optional condition.
type RuleAction struct {
	Name       string         `json:"name"`
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params"`
	Condition  *Condition     `json:"condition,omitempty"`
}

// Rule binds a trigger (event kinds plus optional conditions) to an ordered
// list of actions. TriggerExpression is an optional CEL expression evaluated
// in addition to TriggerCondition; both must pass for the rule to fire.
type Rule struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Enabled           bool          `json:"enabled"`
	SourceID          string        `json:"source_id"`
	TriggerKinds      []EventKind   `json:"trigger_kinds"`
	TriggerCondition  *Condition    `json:"trigger_condition,omitempty"`
	TriggerExpression string        `json:"trigger_expression,omitempty"`
	Actions           []RuleAction  `json:"actions"`
	OnFailure         FailurePolicy `json:"on_failure"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Triggers reports whether the rule is configured to fire on the given kind.
func (r *Rule) Triggers(kind EventKind) bool {
	for _, k := range r.TriggerKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ActionResult is the outcome of a single action execution.
type ActionResult struct {
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Response   map[string]any `json:"response,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// EvalContext carries the event state a condition is evaluated against.
type EvalContext struct {
	Fields       map[string]any
	BeforeFields map[string]any
	RecordID     string
	TriggerKind  EventKind
	OperatorID   string
	FieldTypes   map[string]FieldType
}

// RuleMatch pairs a firing rule with the actions whose own conditions passed.
type RuleMatch struct {
	Rule    *Rule
	Actions []RuleAction
}

// ExecutionLogEntry records the outcome of one action execution. Entries are
// produced by the dispatcher and persisted by the log sink; they are never
// updated after creation.
type ExecutionLogEntry struct {
	RuleID         string         `json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	ActionName     string         `json:"action_name"`
	TriggerKind    EventKind      `json:"trigger_kind"`
	RecordID       string         `json:"record_id"`
	OperatorID     string         `json:"operator_id,omitempty"`
	FieldsSnapshot map[string]any `json:"fields_snapshot,omitempty"`
	Status         string         `json:"status"` // "success" or "failed"
	ErrorMessage   string         `json:"error_message,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	Response       map[string]any `json:"response,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)
