// Package retry wraps approach executions with classified, backoff-governed
// retries and keeps a bounded record of every outcome.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/classify"
	"webpilot-mcp-server/internal/config"

	"github.com/rs/zerolog"
)

// recordCap bounds the outcome ring buffer.
const recordCap = 500

// categoryMultipliers scale the backoff per error category. Slow failures
// like browser restarts back off harder; cheap ones like a missing element
// retry sooner.
var categoryMultipliers = map[classify.Category]float64{
	classify.CategoryNetwork:           1.5,
	classify.CategoryPageLoad:          1.2,
	classify.CategoryTimeout:           1.3,
	classify.CategoryBrowser:           2.0,
	classify.CategoryElementNotFound:   0.8,
	classify.CategoryInteractionFailed: 0.9,
}

// Operation produces one attempt's result.
type Operation func(ctx context.Context) automation.ActionResult

// Record is one completed run, kept for analytics.
type Record struct {
	Timestamp time.Time           `json:"timestamp"`
	Approach  automation.Approach `json:"approach"`
	Success   bool                `json:"success"`
	Attempts  int                 `json:"attempts"`
	Category  classify.Category   `json:"category,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// Engine runs operations under the configured retry policy.
type Engine struct {
	cfg config.RetryConfig
	log zerolog.Logger

	mu      sync.Mutex
	records []Record
	// jitter is swappable so tests can pin the randomness.
	jitter func() float64
}

func NewEngine(cfg config.RetryConfig, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		log:    log.With().Str("component", "retry").Logger(),
		jitter: rand.Float64,
	}
}

// Run executes op under the engine's configured retry budget.
func (e *Engine) Run(ctx context.Context, approach automation.Approach, op Operation) automation.ActionResult {
	return e.RunWithBudget(ctx, approach, e.cfg.MaxRetries, op)
}

// RunWithBudget executes op until success, a non-retryable failure, or
// exhaustion of the given retry budget. A budget at or below zero falls back
// to the configured max_retries. The last failure carries a recommendation
// derived from its category.
func (e *Engine) RunWithBudget(ctx context.Context, approach automation.Approach, budget int, op Operation) automation.ActionResult {
	maxRetries := budget
	if maxRetries < 0 {
		maxRetries = e.cfg.MaxRetries
	}
	attempts := 0
	var last automation.ActionResult
	var lastCtx *classify.ErrorContext
	retriedOnce := false

	for i := 0; ; i++ {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.GetTimeout())
		last = op(attemptCtx)
		cancel()

		if last.Success {
			e.record(approach, last, attempts, nil)
			return last
		}

		ec := classify.ClassifyMessage(last.ErrorMessage, approach, nil)
		lastCtx = &ec
		e.log.Debug().
			Str("approach", string(approach)).
			Str("category", string(lastCtx.Category)).
			Int("attempt", attempts).
			Bool("retryable", lastCtx.Retryable).
			Msg("attempt failed")

		if i >= maxRetries || !canRetry(lastCtx, retriedOnce) {
			break
		}
		if !lastCtx.Retryable && lastCtx.RetryOnce {
			retriedOnce = true
		}

		select {
		case <-ctx.Done():
			last.ErrorMessage = ctx.Err().Error()
			e.record(approach, last, attempts, lastCtx)
			return last
		case <-time.After(e.Delay(i, lastCtx.Category)):
		}
	}

	if last.Recommendation == "" && lastCtx != nil {
		last.Recommendation = lastCtx.Recommendation()
	}
	e.record(approach, last, attempts, lastCtx)
	return last
}

// canRetry decides whether another attempt is allowed after a failure.
func canRetry(ec *classify.ErrorContext, retriedOnce bool) bool {
	if ec.Retryable {
		return true
	}
	// Conservative single retry for categories marked RetryOnce.
	return ec.RetryOnce && !retriedOnce
}

// Delay computes the pause after failed attempt i (0-indexed):
// min(max_delay, base x 2^i x category multiplier), then +-10% jitter.
func (e *Engine) Delay(i int, category classify.Category) time.Duration {
	base := e.cfg.GetBaseDelay()
	d := float64(base)
	if e.cfg.IsExponential() {
		d *= float64(int64(1) << uint(i))
	}
	if m, ok := categoryMultipliers[category]; ok {
		d *= m
	}
	if maxDelay := float64(e.cfg.GetMaxDelay()); d > maxDelay {
		d = maxDelay
	}
	if e.cfg.HasJitter() {
		// U(-0.1, +0.1) around the computed delay.
		d *= 1 + (e.jitter()*0.2 - 0.1)
	}
	return time.Duration(d)
}

func (e *Engine) record(approach automation.Approach, res automation.ActionResult, attempts int, ec *classify.ErrorContext) {
	rec := Record{
		Timestamp: time.Now(),
		Approach:  approach,
		Success:   res.Success,
		Attempts:  attempts,
		Message:   res.ErrorMessage,
	}
	if ec != nil {
		rec.Category = ec.Category
	}

	e.mu.Lock()
	e.records = append(e.records, rec)
	if len(e.records) > recordCap {
		e.records = e.records[len(e.records)-recordCap:]
	}
	e.mu.Unlock()
}

// Records returns a snapshot of the outcome buffer, oldest first.
func (e *Engine) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, len(e.records))
	copy(out, e.records)
	return out
}

// CategoryDistribution counts failures per error category across the buffer.
func (e *Engine) CategoryDistribution() map[classify.Category]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	dist := make(map[classify.Category]int)
	for _, rec := range e.records {
		if !rec.Success && rec.Category != "" {
			dist[rec.Category]++
		}
	}
	return dist
}
