package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticRules struct {
	rules []*Rule
	err   error
}

func (s *staticRules) FindBySource(_ context.Context, sourceID string) ([]*Rule, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*Rule
	for _, r := range s.rules {
		if r.SourceID == sourceID {
			out = append(out, r)
		}
	}
	return out, nil
}

type staticSchemas struct {
	types map[string]FieldType
}

func (s *staticSchemas) FieldTypesFor(_ context.Context, _ string) (map[string]FieldType, error) {
	return s.types, nil
}

func newTestEngine(t *testing.T, rules []*Rule, writer LogWriter) *Engine {
	t.Helper()
	if writer == nil {
		writer = &captureWriter{}
	}
	eng, err := New(Config{ActionTimeout: time.Second}, &staticRules{rules: rules}, &staticSchemas{}, writer, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

func TestProcessEventDispatchesMatchedActions(t *testing.T) {
	rule := baseRule("r1")
	rule.Actions = []RuleAction{{Name: "only", ActionType: "count"}}

	eng := newTestEngine(t, []*Rule{rule}, nil)

	var count int
	eng.Registry().Register("count", ActionHandlerFunc(func(_ context.Context, _ map[string]any, _ ActionContext) (ActionResult, error) {
		count++
		return ActionResult{Success: true}, nil
	}))

	if err := eng.ProcessEvent(context.Background(), updateEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 dispatch, got %d", count)
	}
}

func TestProcessEventDeduplicates(t *testing.T) {
	rule := baseRule("r1")
	rule.Actions = []RuleAction{{Name: "only", ActionType: "count"}}

	eng := newTestEngine(t, []*Rule{rule}, nil)

	var count int
	eng.Registry().Register("count", ActionHandlerFunc(func(_ context.Context, _ map[string]any, _ ActionContext) (ActionResult, error) {
		count++
		return ActionResult{Success: true}, nil
	}))

	event := updateEvent()
	for i := 0; i < 3; i++ {
		if err := eng.ProcessEvent(context.Background(), event); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if count != 1 {
		t.Errorf("duplicate events must not re-dispatch, got %d dispatches", count)
	}

	// A different event ID processes normally.
	event.EventID = "evt_other"
	eng.ProcessEvent(context.Background(), event)
	if count != 2 {
		t.Errorf("distinct event should dispatch, got %d", count)
	}
}

func TestProcessEventActionFailureDoesNotFailEvent(t *testing.T) {
	rule := baseRule("r1")
	rule.Actions = []RuleAction{{Name: "bad", ActionType: "fail"}}

	writer := &captureWriter{}
	eng := newTestEngine(t, []*Rule{rule}, writer)
	eng.Registry().Register("fail", failHandler())

	if err := eng.ProcessEvent(context.Background(), updateEvent()); err != nil {
		t.Fatalf("action failure must not surface as a processing error: %v", err)
	}

	eng.sink.Flush()
	if writer.batchCount() != 1 {
		t.Fatalf("expected a flushed batch, got %d", writer.batchCount())
	}
	if writer.batches[0][0].Status != StatusFailed {
		t.Error("expected the failure logged")
	}
}

func TestProcessEventRuleLookupErrorPropagates(t *testing.T) {
	eng, err := New(Config{}, &staticRules{err: errors.New("db down")}, &staticSchemas{}, &captureWriter{}, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if err := eng.ProcessEvent(context.Background(), updateEvent()); err == nil {
		t.Fatal("infrastructure failure should propagate")
	}
}

func TestProcessEventBrokenDedupStillProcesses(t *testing.T) {
	rule := baseRule("r1")
	rule.Actions = []RuleAction{{Name: "only", ActionType: "count"}}

	var count int
	eng, err := New(Config{}, &staticRules{rules: []*Rule{rule}}, &staticSchemas{}, &captureWriter{}, brokenDedup{})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	eng.Registry().Register("count", ActionHandlerFunc(func(_ context.Context, _ map[string]any, _ ActionContext) (ActionResult, error) {
		count++
		return ActionResult{Success: true}, nil
	}))

	if err := eng.ProcessEvent(context.Background(), updateEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Error("broken dedup must not block processing")
	}
}

type brokenDedup struct{}

func (brokenDedup) Seen(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (brokenDedup) MarkSeen(context.Context, string) error     { return errors.New("redis down") }
