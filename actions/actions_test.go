package actions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/automation/engine"
)

type fakeRecordAPI struct {
	createdFields map[string]any
	updatedID     string
	updatedFields map[string]any
	deletedID     string
	batchDeleted  []string
	failWith      error
}

func (f *fakeRecordAPI) CreateRecord(_ context.Context, _ string, fields map[string]any) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	f.createdFields = fields
	return "rec_new", nil
}

func (f *fakeRecordAPI) UpdateRecord(_ context.Context, _, recordID string, fields map[string]any) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.updatedID = recordID
	f.updatedFields = fields
	return nil
}

func (f *fakeRecordAPI) DeleteRecord(_ context.Context, _, recordID string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.deletedID = recordID
	return nil
}

func (f *fakeRecordAPI) QueryRecords(_ context.Context, _ string, _ map[string]any, _ int) ([]map[string]any, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return []map[string]any{{"id": "rec_1"}, {"id": "rec_2"}}, nil
}

func (f *fakeRecordAPI) BatchCreate(_ context.Context, _ string, records []map[string]any) ([]string, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = "rec_batch"
	}
	return ids, nil
}

func (f *fakeRecordAPI) BatchUpdate(_ context.Context, _ string, _ map[string]map[string]any) error {
	return f.failWith
}

func (f *fakeRecordAPI) BatchDelete(_ context.Context, _ string, recordIDs []string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.batchDeleted = recordIDs
	return nil
}

type fakeMessenger struct {
	recipient string
	msgType   string
	content   string
	failWith  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, recipient, msgType, content string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.recipient = recipient
	f.msgType = msgType
	f.content = content
	return nil
}

func TestCreateRecordHandler(t *testing.T) {
	api := &fakeRecordAPI{}
	handler := CreateRecordHandler(api)

	result, err := handler(context.Background(), map[string]any{
		"source_id": "tbl_1",
		"fields":    map[string]any{"Status": "Done"},
	}, engine.ActionContext{})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "rec_new", result.Response["record_id"])
	assert.Equal(t, "Done", api.createdFields["Status"])
}

func TestCreateRecordHandlerMissingParams(t *testing.T) {
	handler := CreateRecordHandler(&fakeRecordAPI{})

	_, err := handler(context.Background(), map[string]any{"fields": map[string]any{"a": 1}}, engine.ActionContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source_id")

	_, err = handler(context.Background(), map[string]any{"source_id": "tbl_1"}, engine.ActionContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields")
}

func TestUpdateRecordHandlerFallsBackToTriggeringRecord(t *testing.T) {
	api := &fakeRecordAPI{}
	handler := UpdateRecordHandler(api)

	result, err := handler(context.Background(), map[string]any{
		"source_id": "tbl_1",
		"fields":    map[string]any{"Status": "Closed"},
	}, engine.ActionContext{RecordID: "rec_trigger"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "rec_trigger", api.updatedID)
}

func TestDeleteRecordHandlerAPIError(t *testing.T) {
	api := &fakeRecordAPI{failWith: errors.New("boom")}
	handler := DeleteRecordHandler(api)

	_, err := handler(context.Background(), map[string]any{
		"source_id": "tbl_1",
		"record_id": "rec_9",
	}, engine.ActionContext{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestQueryRecordsHandler(t *testing.T) {
	handler := QueryRecordsHandler(&fakeRecordAPI{})

	result, err := handler(context.Background(), map[string]any{
		"source_id": "tbl_1",
		"filter":    map[string]any{"Status": "Open"},
		"limit":     10,
	}, engine.ActionContext{})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Response["count"])
}

func TestBatchDeleteHandler(t *testing.T) {
	api := &fakeRecordAPI{}
	handler := BatchDeleteHandler(api)

	result, err := handler(context.Background(), map[string]any{
		"source_id":  "tbl_1",
		"record_ids": []any{"rec_1", "rec_2"},
	}, engine.ActionContext{})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"rec_1", "rec_2"}, api.batchDeleted)
}

func TestSendMessageHandlerDefaultsMsgType(t *testing.T) {
	m := &fakeMessenger{}
	handler := SendMessageHandler(m)

	result, err := handler(context.Background(), map[string]any{
		"recipient": "ou_123",
		"content":   "ticket escalated",
	}, engine.ActionContext{})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "text", m.msgType)
	assert.Equal(t, "ticket escalated", m.content)
}

func TestCallAPIHandler(t *testing.T) {
	var gotMethod, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Token")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	handler := CallAPIHandler(srv.Client())
	result, err := handler(context.Background(), map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Token": "secret"},
		"body":    map[string]any{"record_id": "rec_1"},
	}, engine.ActionContext{})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, http.StatusOK, result.Response["status"])
}

func TestCallAPIHandlerNon2xxIsFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	handler := CallAPIHandler(srv.Client())
	result, err := handler(context.Background(), map[string]any{"url": srv.URL}, engine.ActionContext{})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "502")
}

func TestCallAPIHandlerRejectsNonHTTPURL(t *testing.T) {
	handler := CallAPIHandler(nil)

	_, err := handler(context.Background(), map[string]any{"url": "ftp://example.com"}, engine.ActionContext{})
	require.Error(t, err)
}

func TestRegisterAll(t *testing.T) {
	registry := engine.NewRegistry()
	RegisterAll(registry, &fakeRecordAPI{}, &fakeMessenger{}, nil)

	for _, name := range []string{
		TypeCreateRecord, TypeUpdateRecord, TypeDeleteRecord, TypeQueryRecords,
		TypeBatchCreate, TypeBatchUpdate, TypeBatchDelete, TypeSendMessage, TypeCallAPI,
	} {
		_, ok := registry.Resolve(name)
		assert.True(t, ok, "handler %s not registered", name)
	}
}

func TestRegisterAllNilDependencies(t *testing.T) {
	registry := engine.NewRegistry()
	RegisterAll(registry, nil, nil, nil)

	_, ok := registry.Resolve(TypeCreateRecord)
	assert.False(t, ok)
	_, ok = registry.Resolve(TypeSendMessage)
	assert.False(t, ok)
	_, ok = registry.Resolve(TypeCallAPI)
	assert.True(t, ok)
}
