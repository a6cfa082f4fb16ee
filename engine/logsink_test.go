package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type captureWriter struct {
	mu      sync.Mutex
	batches [][]ExecutionLogEntry
	err     error
}

func (w *captureWriter) InsertBatch(_ context.Context, entries []ExecutionLogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, entries)
	return nil
}

func (w *captureWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func TestBatchLogSinkFlush(t *testing.T) {
	writer := &captureWriter{}
	sink := NewBatchLogSink(writer, 10, time.Hour, nil)

	sink.Enqueue(ExecutionLogEntry{RuleID: "r1"})
	sink.Enqueue(ExecutionLogEntry{RuleID: "r2"})
	if sink.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", sink.Pending())
	}

	sink.Flush()

	if writer.batchCount() != 1 {
		t.Fatalf("expected 1 batch, got %d", writer.batchCount())
	}
	if len(writer.batches[0]) != 2 {
		t.Errorf("expected batch of 2, got %d", len(writer.batches[0]))
	}
	if sink.Pending() != 0 {
		t.Errorf("queue should be empty after flush, %d pending", sink.Pending())
	}
}

func TestBatchLogSinkEmptyFlushSkipsWrite(t *testing.T) {
	writer := &captureWriter{}
	sink := NewBatchLogSink(writer, 10, time.Hour, nil)

	sink.Flush()
	if writer.batchCount() != 0 {
		t.Error("empty queue must not produce a write")
	}
}

func TestBatchLogSinkOverflowDropsOldest(t *testing.T) {
	writer := &captureWriter{}
	sink := NewBatchLogSink(writer, 3, time.Hour, nil)

	for i := 0; i < 5; i++ {
		sink.Enqueue(ExecutionLogEntry{RuleID: string(rune('a' + i))})
	}

	if sink.Pending() != 3 {
		t.Fatalf("expected queue capped at 3, got %d", sink.Pending())
	}
	if sink.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", sink.Dropped())
	}

	sink.Flush()
	batch := writer.batches[0]
	// Oldest entries were dropped; the newest three remain.
	if batch[0].RuleID != "c" || batch[2].RuleID != "e" {
		t.Errorf("unexpected surviving entries: %v", batch)
	}
}

func TestBatchLogSinkFlushFailureDiscardsBatch(t *testing.T) {
	writer := &captureWriter{err: errors.New("db down")}
	var reported error
	sink := NewBatchLogSink(writer, 10, time.Hour, func(err error) { reported = err })

	sink.Enqueue(ExecutionLogEntry{RuleID: "r1"})
	sink.Flush()

	if reported == nil {
		t.Fatal("expected flush error reported to callback")
	}
	if sink.Pending() != 0 {
		t.Error("failed batch must be discarded, not requeued")
	}

	// A later flush succeeds with fresh entries only.
	writer.mu.Lock()
	writer.err = nil
	writer.mu.Unlock()
	sink.Enqueue(ExecutionLogEntry{RuleID: "r2"})
	sink.Flush()

	if writer.batchCount() != 1 {
		t.Fatalf("expected 1 successful batch, got %d", writer.batchCount())
	}
	if writer.batches[0][0].RuleID != "r2" {
		t.Error("discarded entry must not reappear")
	}
}

func TestBatchLogSinkCloseWithoutStart(t *testing.T) {
	writer := &captureWriter{}
	sink := NewBatchLogSink(writer, 10, time.Hour, nil)

	sink.Enqueue(ExecutionLogEntry{RuleID: "r1"})

	done := make(chan struct{})
	go func() {
		sink.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close on a never-started sink must not block")
	}

	if writer.batchCount() != 1 {
		t.Error("pending entries should flush on Close even without Start")
	}

	// Close again is a no-op, and a late Start must not panic.
	sink.Close()
	sink.Start()
}

func TestBatchLogSinkPeriodicFlushAndClose(t *testing.T) {
	writer := &captureWriter{}
	sink := NewBatchLogSink(writer, 10, 20*time.Millisecond, nil)
	sink.Start()

	sink.Enqueue(ExecutionLogEntry{RuleID: "r1"})

	deadline := time.Now().Add(2 * time.Second)
	for writer.batchCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("periodic flush did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Entries enqueued after the last tick are flushed on Close.
	sink.Enqueue(ExecutionLogEntry{RuleID: "r2"})
	sink.Close()

	total := 0
	writer.mu.Lock()
	for _, b := range writer.batches {
		total += len(b)
	}
	writer.mu.Unlock()
	if total != 2 {
		t.Errorf("expected both entries flushed, got %d", total)
	}
}
