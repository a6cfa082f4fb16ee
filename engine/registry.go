package engine

import (
	"context"
	"sort"
	"sync"
)

// ActionContext carries the event state an action handler executes against.
type ActionContext struct {
	RecordID     string
	OperatorID   string
	TriggerKind  EventKind
	Fields       map[string]any
	BeforeFields map[string]any
}

// ActionHandler executes one action type. Implementations must treat the
// context's deadline as advisory: the dispatcher stops waiting when the
// per-action timeout elapses, but does not guarantee cancellation of work
// already in flight.
type ActionHandler interface {
	Execute(ctx context.Context, params map[string]any, actx ActionContext) (ActionResult, error)
}

// ActionHandlerFunc adapts a function to the ActionHandler interface.
type ActionHandlerFunc func(ctx context.Context, params map[string]any, actx ActionContext) (ActionResult, error)

func (f ActionHandlerFunc) Execute(ctx context.Context, params map[string]any, actx ActionContext) (ActionResult, error) {
	return f(ctx, params, actx)
}

// Registry maps action type names to handlers. It is owned by the engine
// instance so separate engines (tests, multi-tenant setups) don't share
// handler state.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewRegistry creates an empty action handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ActionHandler)}
}

// Register binds a handler to an action type, replacing any previous binding.
func (r *Registry) Register(actionType string, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = handler
}

// Resolve returns the handler for an action type, or false if none is bound.
func (r *Registry) Resolve(actionType string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// Types returns the registered action type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
