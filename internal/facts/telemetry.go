package facts

import (
	"context"
	"time"
)

// Telemetry predicates emitted by the orchestrator. Arities must match the
// declarations in schemas/automation.mg.
const (
	PredExecution  = "execution"      // execution(RequestID, Approach, ActionType, Success, Confidence)
	PredErrorClass = "error_class"    // error_class(RequestID, Approach, Category)
	PredRecovery   = "recovery_event" // recovery_event(RequestID, RecoveryAction, Approach)
	PredRouting    = "routing"        // routing(RequestID, Approach, TaskType)
)

// RecordExecution emits one execution outcome fact.
func (e *Engine) RecordExecution(ctx context.Context, requestID, approach, actionType string, success bool, confidence float64) {
	_ = e.AddFacts(ctx, []Fact{{
		Predicate: PredExecution,
		Args:      []interface{}{requestID, approach, actionType, success, confidence},
		Timestamp: time.Now(),
	}})
}

// RecordErrorClass emits the classified category of a failure.
func (e *Engine) RecordErrorClass(ctx context.Context, requestID, approach, category string) {
	_ = e.AddFacts(ctx, []Fact{{
		Predicate: PredErrorClass,
		Args:      []interface{}{requestID, approach, category},
		Timestamp: time.Now(),
	}})
}

// RecordRecovery emits the recovery action a failure chain took.
func (e *Engine) RecordRecovery(ctx context.Context, requestID, action, approach string) {
	_ = e.AddFacts(ctx, []Fact{{
		Predicate: PredRecovery,
		Args:      []interface{}{requestID, action, approach},
		Timestamp: time.Now(),
	}})
}

// RecordRouting emits the routing decision for a request.
func (e *Engine) RecordRouting(ctx context.Context, requestID, approach, taskType string) {
	_ = e.AddFacts(ctx, []Fact{{
		Predicate: PredRouting,
		Args:      []interface{}{requestID, approach, taskType},
		Timestamp: time.Now(),
	}})
}
