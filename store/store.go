package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/automation/engine"
)

// RuleStore manages rule persistence and retrieval.
type RuleStore interface {
	Create(ctx context.Context, rule *engine.Rule) error
	Get(ctx context.Context, id string) (*engine.Rule, error)
	List(ctx context.Context) ([]*engine.Rule, error)
	FindBySource(ctx context.Context, sourceID string) ([]*engine.Rule, error)
	Update(ctx context.Context, rule *engine.Rule) error
	Delete(ctx context.Context, id string) error
}

// SchemaStore manages per-source field type mappings.
type SchemaStore interface {
	FieldTypesFor(ctx context.Context, sourceID string) (map[string]engine.FieldType, error)
	Put(ctx context.Context, sourceID string, fieldTypes map[string]engine.FieldType) error
}

// LogFilter narrows execution log queries. Zero values are ignored.
type LogFilter struct {
	RuleID string
	Status string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// LogStore persists and queries execution log entries.
type LogStore interface {
	InsertBatch(ctx context.Context, entries []engine.ExecutionLogEntry) error
	Find(ctx context.Context, filter LogFilter) ([]engine.ExecutionLogEntry, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// InMemoryRuleStore implements RuleStore with a mutex-guarded map.
type InMemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]*engine.Rule
}

// NewInMemoryRuleStore creates an empty in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{rules: make(map[string]*engine.Rule)}
}

// Create adds a new rule, enforcing unique IDs and setting timestamps.
func (s *InMemoryRuleStore) Create(_ context.Context, rule *engine.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	return rule, nil
}

// List returns all rules ordered by creation time.
func (s *InMemoryRuleStore) List(_ context.Context) ([]*engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*engine.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		all = append(all, rule)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all, nil
}

// FindBySource returns the enabled rules for a source, ordered by creation
// time so routing sees a stable first-registered, first-evaluated order.
func (s *InMemoryRuleStore) FindBySource(_ context.Context, sourceID string) ([]*engine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*engine.Rule
	for _, rule := range s.rules {
		if rule.Enabled && rule.SourceID == sourceID {
			matched = append(matched, rule)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	return matched, nil
}

// Update replaces an existing rule, preserving CreatedAt.
func (s *InMemoryRuleStore) Update(_ context.Context, rule *engine.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule.
func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s not found", id)
	}
	delete(s.rules, id)
	return nil
}

// InMemorySchemaStore implements SchemaStore with a mutex-guarded map.
type InMemorySchemaStore struct {
	mu      sync.RWMutex
	schemas map[string]map[string]engine.FieldType
}

// NewInMemorySchemaStore creates an empty in-memory schema store.
func NewInMemorySchemaStore() *InMemorySchemaStore {
	return &InMemorySchemaStore{schemas: make(map[string]map[string]engine.FieldType)}
}

// FieldTypesFor returns a copy of the source's field types. An unknown
// source yields an empty mapping, so every field defaults to text.
func (s *InMemorySchemaStore) FieldTypesFor(_ context.Context, sourceID string) (map[string]engine.FieldType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make(map[string]engine.FieldType, len(s.schemas[sourceID]))
	for k, v := range s.schemas[sourceID] {
		types[k] = v
	}
	return types, nil
}

// Put replaces the field types for a source.
func (s *InMemorySchemaStore) Put(_ context.Context, sourceID string, fieldTypes map[string]engine.FieldType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]engine.FieldType, len(fieldTypes))
	for k, v := range fieldTypes {
		copied[k] = v
	}
	s.schemas[sourceID] = copied
	return nil
}

// InMemoryLogStore implements LogStore with an append-only slice.
type InMemoryLogStore struct {
	mu      sync.RWMutex
	entries []engine.ExecutionLogEntry
}

// NewInMemoryLogStore creates an empty in-memory log store.
func NewInMemoryLogStore() *InMemoryLogStore {
	return &InMemoryLogStore{}
}

// InsertBatch appends a batch of entries.
func (s *InMemoryLogStore) InsertBatch(_ context.Context, entries []engine.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

// Find returns entries matching the filter, newest first.
func (s *InMemoryLogStore) Find(_ context.Context, filter LogFilter) ([]engine.ExecutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []engine.ExecutionLogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.RuleID != "" && e.RuleID != filter.RuleID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.CreatedAt.After(filter.Until) {
			continue
		}
		matched = append(matched, e)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Purge removes entries older than the cutoff and returns the count removed.
func (s *InMemoryLogStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []engine.ExecutionLogEntry
	var removed int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}
