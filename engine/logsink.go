package engine

import (
	"context"
	"sync"
	"time"

	"github.com/liamcoop/automation/internal/logger"
)

const (
	// DefaultQueueCapacity bounds the unflushed entry queue.
	DefaultQueueCapacity = 1000
	// DefaultFlushInterval is how often the queue is written out in one batch.
	DefaultFlushInterval = 5 * time.Second
)

// LogWriter persists a batch of execution log entries.
type LogWriter interface {
	InsertBatch(ctx context.Context, entries []ExecutionLogEntry) error
}

// BatchLogSink buffers execution log entries and flushes them periodically in
// a single batch write, decoupled from the dispatch path. The queue is
// bounded: on overflow the oldest unflushed entry is dropped. Logging here is
// observability, not a durability guarantee — loss under sustained overload
// is expected and counted, not hidden.
type BatchLogSink struct {
	writer   LogWriter
	capacity int
	interval time.Duration
	onError  func(error)

	mu      sync.Mutex
	queue   []ExecutionLogEntry
	dropped int64
	started bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewBatchLogSink creates a sink writing to the given store. Non-positive
// capacity or interval fall back to the defaults. onError is invoked with
// flush failures; the failed batch is discarded without retry. A nil onError
// logs the failure.
func NewBatchLogSink(writer LogWriter, capacity int, interval time.Duration, onError func(error)) *BatchLogSink {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if onError == nil {
		onError = func(err error) {
			logger.Error("execution log flush failed", "error", err)
		}
	}
	return &BatchLogSink{
		writer:   writer,
		capacity: capacity,
		interval: interval,
		onError:  onError,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic flush loop. Starting twice is a no-op.
func (s *BatchLogSink) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
}

// Close flushes remaining entries and stops the loop. Safe to call on a sink
// that was never started.
func (s *BatchLogSink) Close() {
	s.once.Do(func() {
		close(s.stop)

		s.mu.Lock()
		started := s.started
		// A Start after Close must not launch the loop and double-close done.
		s.started = true
		s.mu.Unlock()
		if !started {
			s.Flush()
			close(s.done)
		}
	})
	<-s.done
}

// Enqueue adds an entry to the queue without blocking. When the queue is
// full, the oldest entry is dropped to make room.
func (s *BatchLogSink) Enqueue(entry ExecutionLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.dropped++
		if s.dropped%100 == 1 {
			logger.Warn("execution log queue overflow, dropping oldest entries",
				"dropped_total", s.dropped,
				"capacity", s.capacity,
			)
		}
	}
	s.queue = append(s.queue, entry)
}

// Dropped returns how many entries have been discarded due to overflow.
func (s *BatchLogSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending returns the number of unflushed entries.
func (s *BatchLogSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *BatchLogSink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.stop:
			s.Flush()
			return
		}
	}
}

// Flush writes the full queue contents as one batch. On failure the batch is
// discarded and the error reported, so the queue cannot grow without bound
// behind a broken store.
func (s *BatchLogSink) Flush() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.writer.InsertBatch(ctx, batch); err != nil {
		s.onError(err)
	}
}
