package main

import (
	"github.com/liamcoop/automation/engine"
)

// API request and response models.

// PutSchemaRequest sets the field type mapping for a source.
type PutSchemaRequest struct {
	FieldTypes map[string]engine.FieldType `json:"field_types"`
}

// EventAcceptedResponse acknowledges an accepted webhook event.
type EventAcceptedResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// RulesListResponse wraps the rule listing.
type RulesListResponse struct {
	Rules []*engine.Rule `json:"rules"`
}

// LogsResponse wraps an execution log query result.
type LogsResponse struct {
	Logs []engine.ExecutionLogEntry `json:"logs"`
}

// ErrorResponse is the error envelope for all failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse reports service health and the registered action types.
type HealthResponse struct {
	Status      string   `json:"status"`
	ActionTypes []string `json:"action_types"`
}
