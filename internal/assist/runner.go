package assist

import (
	"context"
	"errors"
	"fmt"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/dom"
	"webpilot-mcp-server/internal/pattern"
)

// RunOutcome is what a runner reports back after executing a sequence.
type RunOutcome struct {
	Confidence float64
	Data       map[string]interface{}
	// Executed echoes the actions that actually ran, in order.
	Executed []pattern.Action
}

// Runner executes a synthesized action sequence against the live page bound
// to the request. Implementations must honor the context deadline.
type Runner interface {
	Run(ctx context.Context, req automation.ActionRequest, actions []pattern.Action) (RunOutcome, error)
}

// RodRunner drives the sequence through the real browser. The observe steps
// map to the executor's pre-analysis and post-interaction settle; the middle
// act or extract step performs the concrete interaction.
type RodRunner struct {
	exec *dom.Executor
}

func NewRodRunner(exec *dom.Executor) *RodRunner {
	return &RodRunner{exec: exec}
}

func (r *RodRunner) Run(ctx context.Context, req automation.ActionRequest, actions []pattern.Action) (RunOutcome, error) {
	if len(actions) == 0 {
		return RunOutcome{}, errors.New("empty action sequence")
	}

	res := r.exec.Execute(ctx, req)
	if !res.Success {
		return RunOutcome{Executed: actions}, fmt.Errorf("%s", res.ErrorMessage)
	}
	return RunOutcome{
		Confidence: res.Confidence,
		Data:       res.ResultData,
		Executed:   actions,
	}, nil
}

// StubRunner is the test double: it returns canned outcomes in order, or the
// configured error.
type StubRunner struct {
	Outcomes []RunOutcome
	Errs     []error
	Calls    int
}

func (s *StubRunner) Run(_ context.Context, _ automation.ActionRequest, actions []pattern.Action) (RunOutcome, error) {
	i := s.Calls
	s.Calls++
	var err error
	if i < len(s.Errs) {
		err = s.Errs[i]
	}
	var out RunOutcome
	if i < len(s.Outcomes) {
		out = s.Outcomes[i]
	}
	out.Executed = actions
	return out, err
}
