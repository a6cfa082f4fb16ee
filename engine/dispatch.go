package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/automation/internal/logger"
)

// DefaultActionTimeout bounds a single action execution.
const DefaultActionTimeout = 30 * time.Second

// Sink receives execution log entries from the dispatcher. Enqueue must not
// block.
type Sink interface {
	Enqueue(entry ExecutionLogEntry)
}

// ActionOutcome pairs an executed (or skipped-by-resolution) action with its
// result.
type ActionOutcome struct {
	Action RuleAction
	Result ActionResult
}

// Dispatcher executes the matched actions of a rule in declaration order,
// enforcing the per-action timeout and the rule's failure policy. Every
// result, success or failure, is forwarded to the sink.
type Dispatcher struct {
	registry *Registry
	sink     Sink
	timeout  time.Duration
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. A non-positive timeout falls back to
// DefaultActionTimeout.
func NewDispatcher(registry *Registry, sink Sink, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &Dispatcher{
		registry: registry,
		sink:     sink,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Dispatch runs the match's actions in order. On a failed result with
// OnFailure == stop, remaining actions are skipped. Failures never propagate
// as errors; they are captured in the returned outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, event NormalizedEvent, match RuleMatch) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(match.Actions))

	actx := ActionContext{
		RecordID:     event.RecordID,
		OperatorID:   event.OperatorID,
		TriggerKind:  event.Kind,
		Fields:       event.Fields,
		BeforeFields: event.BeforeFields,
	}

	for _, action := range match.Actions {
		result := d.executeOne(ctx, action, actx)
		outcomes = append(outcomes, ActionOutcome{Action: action, Result: result})

		d.sink.Enqueue(d.logEntry(event, match.Rule, action, result))

		if !result.Success && match.Rule.OnFailure == FailureStop {
			logger.Warn("rule stopped after failed action",
				"rule_id", match.Rule.ID,
				"action", action.Name,
				"error", result.Error,
			)
			break
		}
	}

	return outcomes
}

// executeOne resolves and runs a single action under the dispatch timeout.
// The handler runs on its own goroutine; if it does not settle in time the
// dispatcher abandons the wait and the late result is discarded.
func (d *Dispatcher) executeOne(ctx context.Context, action RuleAction, actx ActionContext) ActionResult {
	start := d.now()

	handler, ok := d.registry.Resolve(action.ActionType)
	if !ok {
		return ActionResult{
			Success:    false,
			Error:      fmt.Sprintf("Unknown action type: %s", action.ActionType),
			DurationMs: d.now().Sub(start).Milliseconds(),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan ActionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ActionResult{Success: false, Error: fmt.Sprintf("handler panic: %v", r)}
			}
		}()
		result, err := handler.Execute(execCtx, action.Params, actx)
		if err != nil {
			done <- ActionResult{Success: false, Error: err.Error(), Response: result.Response}
			return
		}
		done <- result
	}()

	select {
	case result := <-done:
		result.DurationMs = d.now().Sub(start).Milliseconds()
		return result
	case <-execCtx.Done():
		// Parent cancellation (client disconnect, shutdown) is not a
		// handler timeout and is labeled as such in the log.
		errMsg := "timeout"
		if errors.Is(execCtx.Err(), context.Canceled) {
			errMsg = "canceled"
		}
		return ActionResult{
			Success:    false,
			Error:      errMsg,
			DurationMs: d.now().Sub(start).Milliseconds(),
		}
	}
}

func (d *Dispatcher) logEntry(event NormalizedEvent, rule *Rule, action RuleAction, result ActionResult) ExecutionLogEntry {
	status := StatusSuccess
	if !result.Success {
		status = StatusFailed
	}
	return ExecutionLogEntry{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		ActionName:     action.Name,
		TriggerKind:    event.Kind,
		RecordID:       event.RecordID,
		OperatorID:     event.OperatorID,
		FieldsSnapshot: event.Fields,
		Status:         status,
		ErrorMessage:   result.Error,
		DurationMs:     result.DurationMs,
		Response:       result.Response,
		CreatedAt:      d.now(),
	}
}
