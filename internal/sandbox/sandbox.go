// Package sandbox defines the contract for executing synthesized code
// snippets in an isolated environment. The orchestrator only depends on the
// interface; deployments without a sandbox use Unavailable.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Result is the outcome of one sandboxed execution.
type Result struct {
	Success       bool                   `json:"success"`
	Result        interface{}            `json:"result,omitempty"`
	Output        string                 `json:"output,omitempty"`
	Errors        []string               `json:"errors,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Context       map[string]interface{} `json:"context,omitempty"`
}

// Executor runs a code snippet with an execution context.
type Executor interface {
	Execute(ctx context.Context, code string, execCtx map[string]interface{}) (Result, error)
	Available() bool
}

// ErrUnavailable is returned when no sandbox backend is configured.
var ErrUnavailable = errors.New("code sandbox not configured")

// Unavailable is the nil backend. Every execution fails with ErrUnavailable
// so callers degrade to the non-code path.
type Unavailable struct{}

func (Unavailable) Execute(context.Context, string, map[string]interface{}) (Result, error) {
	return Result{}, ErrUnavailable
}

func (Unavailable) Available() bool { return false }
