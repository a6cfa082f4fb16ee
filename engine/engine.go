package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/liamcoop/automation/internal/logger"
)

// RuleSource supplies the enabled rules bound to a source. Reads are
// snapshots per routing call; the source may be eventually consistent with
// rule edits.
type RuleSource interface {
	FindBySource(ctx context.Context, sourceID string) ([]*Rule, error)
}

// SchemaSource supplies the field-type mapping for a source's records.
type SchemaSource interface {
	FieldTypesFor(ctx context.Context, sourceID string) (map[string]FieldType, error)
}

// Config carries the tunables of an engine instance. Zero values fall back
// to the package defaults.
type Config struct {
	DedupTTL      time.Duration
	ActionTimeout time.Duration
	QueueCapacity int
	FlushInterval time.Duration
}

// Engine wires deduplication, routing, dispatch and log buffering around an
// inbound stream of normalized events. All mutable state (dedup set, log
// queue, handler registry) is owned by the instance, so separate engines do
// not interfere.
type Engine struct {
	dedup       Deduplicator
	router      *Router
	dispatcher  *Dispatcher
	registry    *Registry
	sink        *BatchLogSink
	rules       RuleSource
	schemas     SchemaSource
	expressions *ExpressionEngine
}

// New creates an engine. dedup may be nil, in which case an in-memory
// deduplicator with the configured TTL is used.
func New(cfg Config, rules RuleSource, schemas SchemaSource, logs LogWriter, dedup Deduplicator) (*Engine, error) {
	expressions, err := NewExpressionEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression engine: %w", err)
	}

	if dedup == nil {
		dedup = NewMemoryDeduplicator(cfg.DedupTTL)
	}

	registry := NewRegistry()
	sink := NewBatchLogSink(logs, cfg.QueueCapacity, cfg.FlushInterval, nil)

	return &Engine{
		dedup:       dedup,
		router:      NewRouter(expressions),
		dispatcher:  NewDispatcher(registry, sink, cfg.ActionTimeout),
		registry:    registry,
		sink:        sink,
		rules:       rules,
		schemas:     schemas,
		expressions: expressions,
	}, nil
}

// Registry exposes the engine's action handler registry for handler
// registration at startup.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Expressions exposes the CEL expression engine, used by rule validation.
func (e *Engine) Expressions() *ExpressionEngine {
	return e.expressions
}

// Start launches the log sink's flush loop.
func (e *Engine) Start() {
	e.sink.Start()
}

// Close flushes and stops the log sink.
func (e *Engine) Close() {
	e.sink.Close()
}

// ProcessEvent runs one normalized event through dedup, routing and
// dispatch. Events may be processed concurrently; dispatch within a single
// event is strictly serialized. Action failures never surface as errors
// here — only infrastructure failures (rule/schema lookup) do.
func (e *Engine) ProcessEvent(ctx context.Context, event NormalizedEvent) error {
	seen, err := e.dedup.Seen(ctx, event.EventID)
	if err != nil {
		// Dedup is best-effort: a broken dedup store must not block events.
		logger.Warn("dedup check failed, processing anyway", "event_id", event.EventID, "error", err)
	} else if seen {
		logger.Debug("duplicate event skipped", "event_id", event.EventID)
		return nil
	}

	rules, err := e.rules.FindBySource(ctx, event.SourceID)
	if err != nil {
		return fmt.Errorf("failed to load rules for source %s: %w", event.SourceID, err)
	}

	fieldTypes, err := e.schemas.FieldTypesFor(ctx, event.SourceID)
	if err != nil {
		return fmt.Errorf("failed to load field types for source %s: %w", event.SourceID, err)
	}

	matches := e.router.Route(event, rules, fieldTypes)
	logger.Debug("event routed",
		"event_id", event.EventID,
		"source_id", event.SourceID,
		"candidate_rules", len(rules),
		"matched_rules", len(matches),
	)

	for _, match := range matches {
		outcomes := e.dispatcher.Dispatch(ctx, event, match)
		for _, o := range outcomes {
			if !o.Result.Success {
				logger.Warn("action failed",
					"rule_id", match.Rule.ID,
					"action", o.Action.Name,
					"error", o.Result.Error,
				)
			}
		}
	}

	// Marked only after dispatch so a crash mid-dispatch leaves the event
	// eligible for reprocessing on redelivery.
	if err := e.dedup.MarkSeen(ctx, event.EventID); err != nil {
		logger.Warn("failed to mark event seen", "event_id", event.EventID, "error", err)
	}

	return nil
}
