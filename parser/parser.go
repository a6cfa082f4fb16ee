// Package parser converts raw record-change webhook payloads into the
// engine's normalized event form.
//
// The payload is flat:
//
//	{
//	  "schema": "2.0",
//	  "event_id": "...",
//	  "event_type": "drive.file.bitable_record_changed_v1",
//	  "create_time": "...",
//	  "file_token": "...",
//	  "table_id": "...",
//	  "operator_id": {"open_id": "...", "union_id": "...", "user_id": null},
//	  "action_list": [{"record_id": "...", "action": "record_edited", "before_value": [...], "after_value": [...]}]
//	}
package parser

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/liamcoop/automation/engine"
)

// ErrInvalidEvent marks payloads missing the structure a record change
// requires.
var ErrInvalidEvent = errors.New("invalid record change event")

type payload struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	FileToken  string         `json:"file_token"`
	TableID    string         `json:"table_id"`
	OperatorID *operatorID    `json:"operator_id"`
	ActionList []recordAction `json:"action_list"`
}

type operatorID struct {
	OpenID  string `json:"open_id"`
	UnionID string `json:"union_id"`
	UserID  string `json:"user_id"`
}

type recordAction struct {
	RecordID    string       `json:"record_id"`
	Action      string       `json:"action"`
	BeforeValue []fieldEntry `json:"before_value"`
	AfterValue  []fieldEntry `json:"after_value"`
}

type fieldEntry struct {
	FieldID            string         `json:"field_id"`
	FieldValue         string         `json:"field_value"`
	FieldIdentityValue *identityValue `json:"field_identity_value"`
}

type identityValue struct {
	Users []identityUser `json:"users"`
}

type identityUser struct {
	UserID *userIDSet `json:"user_id"`
}

type userIDSet struct {
	OpenID  string `json:"open_id"`
	UserID  string `json:"user_id"`
	UnionID string `json:"union_id"`
}

// SourceKey derives the source identifier rules bind to: one table within
// one file.
func SourceKey(fileToken, tableID string) string {
	return fileToken + "/" + tableID
}

// Parse decodes a raw webhook payload into a normalized event. The first
// action in the list determines the record and event kind; field values are
// merged across all actions.
func Parse(raw []byte) (engine.NormalizedEvent, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return engine.NormalizedEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if p.FileToken == "" || p.TableID == "" {
		return engine.NormalizedEvent{}, fmt.Errorf("%w: missing file_token or table_id", ErrInvalidEvent)
	}
	if len(p.ActionList) == 0 {
		return engine.NormalizedEvent{}, fmt.Errorf("%w: empty action_list", ErrInvalidEvent)
	}

	first := p.ActionList[0]
	if first.RecordID == "" {
		return engine.NormalizedEvent{}, fmt.Errorf("%w: missing record_id", ErrInvalidEvent)
	}

	eventID := p.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	var operator string
	if p.OperatorID != nil {
		operator = p.OperatorID.OpenID
	}

	return engine.NormalizedEvent{
		EventID:      eventID,
		SourceID:     SourceKey(p.FileToken, p.TableID),
		RecordID:     first.RecordID,
		Kind:         eventKind(first.Action),
		OperatorID:   operator,
		Fields:       extractFields(p.ActionList, false),
		BeforeFields: extractFields(p.ActionList, true),
	}, nil
}

// eventKind maps the upstream action enum to an event kind. Unknown actions
// are treated as edits.
func eventKind(action string) engine.EventKind {
	switch action {
	case "record_added":
		return engine.EventCreated
	case "record_deleted":
		return engine.EventDeleted
	default:
		return engine.EventUpdated
	}
}

// extractFields flattens the before or after values of every action into a
// single field map.
func extractFields(actions []recordAction, before bool) map[string]any {
	fields := make(map[string]any)

	for _, action := range actions {
		values := action.AfterValue
		if before {
			values = action.BeforeValue
		}
		for _, entry := range values {
			fields[entry.FieldID] = fieldValue(entry)
		}
	}

	return fields
}

// fieldValue decodes a single field entry. Person fields arrive as identity
// values and are normalized to []{"id": <open id>}; everything else is a
// JSON-encoded string, kept verbatim when it does not parse.
func fieldValue(entry fieldEntry) any {
	if iv := entry.FieldIdentityValue; iv != nil && iv.Users != nil {
		users := make([]any, 0, len(iv.Users))
		for _, u := range iv.Users {
			var id string
			if u.UserID != nil {
				switch {
				case u.UserID.OpenID != "":
					id = u.UserID.OpenID
				case u.UserID.UserID != "":
					id = u.UserID.UserID
				default:
					id = u.UserID.UnionID
				}
			}
			users = append(users, map[string]any{"id": id})
		}
		return users
	}

	if entry.FieldValue != "" {
		var decoded any
		if err := json.Unmarshal([]byte(entry.FieldValue), &decoded); err != nil {
			return entry.FieldValue
		}
		return decoded
	}

	return nil
}
