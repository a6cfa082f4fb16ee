package actions

import (
	"context"
	"fmt"

	"github.com/liamcoop/automation/engine"
)

// CreateRecordParams configures the create_record action.
type CreateRecordParams struct {
	SourceID string         `json:"source_id"`
	Fields   map[string]any `json:"fields"`
}

// CreateRecordHandler creates a single record.
func CreateRecordHandler(api RecordAPI) engine.ActionHandlerFunc {
	return func(ctx context.Context, params map[string]any, _ engine.ActionContext) (engine.ActionResult, error) {
		var p CreateRecordParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.SourceID == "" {
			return engine.ActionResult{}, fmt.Errorf("create_record requires source_id")
		}
		if len(p.Fields) == 0 {
			return engine.ActionResult{}, fmt.Errorf("create_record requires fields")
		}

		recordID, err := api.CreateRecord(ctx, p.SourceID, p.Fields)
		if err != nil {
			return engine.ActionResult{}, fmt.Errorf("create record failed: %w", err)
		}
		return successResult(map[string]any{"record_id": recordID}), nil
	}
}

// UpdateRecordParams configures the update_record action. An empty RecordID
// falls back to the triggering record.
type UpdateRecordParams struct {
	SourceID string         `json:"source_id"`
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// UpdateRecordHandler updates a single record.
func UpdateRecordHandler(api RecordAPI) engine.ActionHandlerFunc {
	return func(ctx context.Context, params map[string]any, actx engine.ActionContext) (engine.ActionResult, error) {
		var p UpdateRecordParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.SourceID == "" {
			return engine.ActionResult{}, fmt.Errorf("update_record requires source_id")
		}
		if p.RecordID == "" {
			p.RecordID = actx.RecordID
		}
		if p.RecordID == "" {
			return engine.ActionResult{}, fmt.Errorf("update_record requires record_id")
		}
		if len(p.Fields) == 0 {
			return engine.ActionResult{}, fmt.Errorf("update_record requires fields")
		}

		if err := api.UpdateRecord(ctx, p.SourceID, p.RecordID, p.Fields); err != nil {
			return engine.ActionResult{}, fmt.Errorf("update record failed: %w", err)
		}
		return successResult(map[string]any{"record_id": p.RecordID}), nil
	}
}

// DeleteRecordParams configures the delete_record action. An empty RecordID
// falls back to the triggering record.
type DeleteRecordParams struct {
	SourceID string `json:"source_id"`
	RecordID string `json:"record_id"`
}

// DeleteRecordHandler deletes a single record.
func DeleteRecordHandler(api RecordAPI) engine.ActionHandlerFunc {
	return func(ctx context.Context, params map[string]any, actx engine.ActionContext) (engine.ActionResult, error) {
		var p DeleteRecordParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.SourceID == "" {
			return engine.ActionResult{}, fmt.Errorf("delete_record requires source_id")
		}
		if p.RecordID == "" {
			p.RecordID = actx.RecordID
		}
		if p.RecordID == "" {
			return engine.ActionResult{}, fmt.Errorf("delete_record requires record_id")
		}

		if err := api.DeleteRecord(ctx, p.SourceID, p.RecordID); err != nil {
			return engine.ActionResult{}, fmt.Errorf("delete record failed: %w", err)
		}
		return successResult(map[string]any{"record_id": p.RecordID}), nil
	}
}

// QueryRecordsParams configures the query_records action.
type QueryRecordsParams struct {
	SourceID string         `json:"source_id"`
	Filter   map[string]any `json:"filter"`
	Limit    int            `json:"limit"`
}

// QueryRecordsHandler queries records and returns them in the result
// response, for inspection through the execution log.
func QueryRecordsHandler(api RecordAPI) engine.ActionHandlerFunc {
	return func(ctx context.Context, params map[string]any, _ engine.ActionContext) (engine.ActionResult, error) {
		var p QueryRecordsParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.SourceID == "" {
			return engine.ActionResult{}, fmt.Errorf("query_records requires source_id")
		}

		records, err := api.QueryRecords(ctx, p.SourceID, p.Filter, p.Limit)
		if err != nil {
			return engine.ActionResult{}, fmt.Errorf("query records failed: %w", err)
		}
		return successResult(map[string]any{"count": len(records), "records": records}), nil
	}
}

// BatchCreateParams configures the batch_create action.
type BatchCreateParams struct {
	SourceID string           `json:"source_id"`
	Records  []map[string]any `json:"records"`
}

// BatchCreateHandler creates multiple records in one call.
func BatchCreateHandler(api RecordAPI) engine.ActionHandlerFunc {
	return func(ctx context.Context, params map[string]any, _ engine.ActionContext) (engine.ActionResult, error) {
		var p BatchCreateParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.SourceID == "" {
			return engine.ActionResult{}, fmt.Errorf("batch_create requires source_id")
		}
		if len(p.Records) == 0 {
			return engine.ActionResult{}, fmt.Errorf("batch_create requires records")
		}

		ids, err := api.BatchCreate(ctx, p.SourceID, p.Records)
		if err != nil {
			return engine.ActionResult{}, fmt.Errorf("batch create failed: %w", err)
		}
		return successResult(map[string]any{"record_ids": ids}), nil
	}
}

// BatchUpdateParams configures the batch_update action. Updates maps record
// IDs to the fields to set on each.
type BatchUpdateParams struct {
	SourceID string                    `json:"source_id"`
	Updates  map[string]map[string]any `json:"updates"`
}

// BatchUpdateHandler updates multiple records in one call.
func BatchUpdateHandler(api RecordAPI) engine.ActionHandlerFunc {
	return func(ctx context.Context, params map[string]any, _ engine.ActionContext) (engine.ActionResult, error) {
		var p BatchUpdateParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.SourceID == "" {
			return engine.ActionResult{}, fmt.Errorf("batch_update requires source_id")
		}
		if len(p.Updates) == 0 {
			return engine.ActionResult{}, fmt.Errorf("batch_update requires updates")
		}

		if err := api.BatchUpdate(ctx, p.SourceID, p.Updates); err != nil {
			return engine.ActionResult{}, fmt.Errorf("batch update failed: %w", err)
		}
		return successResult(map[string]any{"updated": len(p.Updates)}), nil
	}
}

// BatchDeleteParams configures the batch_delete action.
type BatchDeleteParams struct {
	SourceID  string   `json:"source_id"`
	RecordIDs []string `json:"record_ids"`
}

// BatchDeleteHandler deletes multiple records in one call.
func BatchDeleteHandler(api RecordAPI) engine.ActionHandlerFunc {
	return func(ctx context.Context, params map[string]any, _ engine.ActionContext) (engine.ActionResult, error) {
		var p BatchDeleteParams
		if err := decodeParams(params, &p); err != nil {
			return engine.ActionResult{}, err
		}
		if p.SourceID == "" {
			return engine.ActionResult{}, fmt.Errorf("batch_delete requires source_id")
		}
		if len(p.RecordIDs) == 0 {
			return engine.ActionResult{}, fmt.Errorf("batch_delete requires record_ids")
		}

		if err := api.BatchDelete(ctx, p.SourceID, p.RecordIDs); err != nil {
			return engine.ActionResult{}, fmt.Errorf("batch delete failed: %w", err)
		}
		return successResult(map[string]any{"deleted": len(p.RecordIDs)}), nil
	}
}
