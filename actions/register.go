package actions

import (
	"net/http"

	"github.com/liamcoop/automation/engine"
)

// Action type names resolved by the registry.
const (
	TypeCreateRecord = "create_record"
	TypeUpdateRecord = "update_record"
	TypeDeleteRecord = "delete_record"
	TypeQueryRecords = "query_records"
	TypeBatchCreate  = "batch_create"
	TypeBatchUpdate  = "batch_update"
	TypeBatchDelete  = "batch_delete"
	TypeSendMessage  = "send_message"
	TypeCallAPI      = "call_api"
)

// RegisterAll binds every built-in handler to the registry. api and messenger
// may be nil; the corresponding handlers are then not registered and rules
// referencing them fail with an unknown action type.
func RegisterAll(registry *engine.Registry, api RecordAPI, messenger Messenger, client *http.Client) {
	if api != nil {
		registry.Register(TypeCreateRecord, CreateRecordHandler(api))
		registry.Register(TypeUpdateRecord, UpdateRecordHandler(api))
		registry.Register(TypeDeleteRecord, DeleteRecordHandler(api))
		registry.Register(TypeQueryRecords, QueryRecordsHandler(api))
		registry.Register(TypeBatchCreate, BatchCreateHandler(api))
		registry.Register(TypeBatchUpdate, BatchUpdateHandler(api))
		registry.Register(TypeBatchDelete, BatchDeleteHandler(api))
	}
	if messenger != nil {
		registry.Register(TypeSendMessage, SendMessageHandler(messenger))
	}
	registry.Register(TypeCallAPI, CallAPIHandler(client))
}
