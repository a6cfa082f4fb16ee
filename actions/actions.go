// Package actions provides the built-in action handlers that rules can
// dispatch: record CRUD against a RecordAPI, messaging against a Messenger,
// and a generic HTTP call. Handlers decode their raw params into typed
// structs and validate them before touching the downstream service.
package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/liamcoop/automation/engine"
)

// RecordAPI is the downstream record service the CRUD handlers talk to.
// SourceID identifies the table or dataset the record lives in.
type RecordAPI interface {
	CreateRecord(ctx context.Context, sourceID string, fields map[string]any) (recordID string, err error)
	UpdateRecord(ctx context.Context, sourceID, recordID string, fields map[string]any) error
	DeleteRecord(ctx context.Context, sourceID, recordID string) error
	QueryRecords(ctx context.Context, sourceID string, filter map[string]any, limit int) ([]map[string]any, error)
	BatchCreate(ctx context.Context, sourceID string, records []map[string]any) ([]string, error)
	BatchUpdate(ctx context.Context, sourceID string, updates map[string]map[string]any) error
	BatchDelete(ctx context.Context, sourceID string, recordIDs []string) error
}

// Messenger delivers notification messages to a recipient.
type Messenger interface {
	SendMessage(ctx context.Context, recipient, msgType, content string) error
}

// decodeParams round-trips the loosely typed params map through JSON into a
// typed parameter struct.
func decodeParams(params map[string]any, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func successResult(response map[string]any) engine.ActionResult {
	return engine.ActionResult{Success: true, Response: response}
}
