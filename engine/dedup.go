package engine

import (
	"context"
	"sync"
	"time"
)

// Deduplicator suppresses reprocessing of an event ID within a TTL window.
// Dedup is a best-effort optimization: Seen must be checked before any
// side-effecting work, and MarkSeen called only after dispatch completes, so
// a crash mid-dispatch leaves the event eligible for safe reprocessing.
type Deduplicator interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

// DefaultDedupTTL is the window during which an event ID is treated as
// already processed.
const DefaultDedupTTL = time.Hour

// MemoryDeduplicator keeps seen event IDs in process memory. Entries expire
// after the TTL and are swept lazily on access. State is not persisted across
// restarts.
type MemoryDeduplicator struct {
	ttl       time.Duration
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryDeduplicator creates an in-memory deduplicator. A non-positive ttl
// falls back to DefaultDedupTTL.
func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDeduplicator{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Seen reports whether the event ID was marked within the TTL window.
func (d *MemoryDeduplicator) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked()

	at, ok := d.seen[eventID]
	if !ok {
		return false, nil
	}
	if d.now().Sub(at) > d.ttl {
		delete(d.seen, eventID)
		return false, nil
	}
	return true, nil
}

// MarkSeen records the event ID with the current timestamp.
func (d *MemoryDeduplicator) MarkSeen(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[eventID] = d.now()
	return nil
}

// sweepLocked drops expired entries. Sweeps are throttled to at most once per
// minute so hot paths don't scan the full map on every call.
func (d *MemoryDeduplicator) sweepLocked() {
	now := d.now()
	if now.Sub(d.lastSweep) < time.Minute {
		return
	}
	d.lastSweep = now

	for id, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, id)
		}
	}
}
