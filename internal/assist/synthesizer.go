// Package assist synthesizes abstract action sequences for a task and runs
// them through a pluggable executor. Sequences are cached by task signature
// so repeat tasks skip synthesis entirely.
package assist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/classify"
	"webpilot-mcp-server/internal/llm"
	"webpilot-mcp-server/internal/pattern"
	"webpilot-mcp-server/internal/sandbox"

	"github.com/rs/zerolog"
)

const synthesisPrompt = `You are a browser automation planner. Given a page summary and a task,
answer with one short sentence describing how to locate the target element
and perform the action. Do not emit code.`

// Synthesizer is the AI-Assist approach: cache-first sequence synthesis plus
// execution through a Runner.
type Synthesizer struct {
	cache   *pattern.Cache
	client  llm.Client // nil when no provider is configured
	runner  Runner
	exec    sandbox.Executor // nil means no sandbox backend
	timeout time.Duration
	// minConfidence fails runs whose confidence lands below it; zero
	// disables the gate.
	minConfidence float64
	log           zerolog.Logger
}

func NewSynthesizer(cache *pattern.Cache, client llm.Client, runner Runner, timeout time.Duration, log zerolog.Logger) *Synthesizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Synthesizer{
		cache:   cache,
		client:  client,
		runner:  runner,
		timeout: timeout,
		log:     log.With().Str("component", "assist").Logger(),
	}
}

// SetSandbox installs the code-execution backend for script requests.
func (s *Synthesizer) SetSandbox(exec sandbox.Executor) {
	s.exec = exec
}

// SetMinConfidence installs the execution-confidence floor.
func (s *Synthesizer) SetMinConfidence(min float64) {
	s.minConfidence = min
}

// Synthesize returns the action sequence for a request: the cached pattern
// when one exists, otherwise a fresh observe/act/observe sequence which is
// stored before returning.
func (s *Synthesizer) Synthesize(ctx context.Context, req automation.ActionRequest, domContext string) ([]pattern.Action, string) {
	key := pattern.Key(req.TaskDescription, string(req.ActionType), req.TargetDescription)
	if rec, ok := s.cache.Get(key); ok && len(rec.Actions) > 0 {
		s.log.Debug().Str("key", key).Msg("pattern cache hit")
		return rec.Actions, key
	}

	actions := s.buildSequence(ctx, req, domContext)
	s.cache.Put(pattern.Record{
		Key:      key,
		Task:     req.TaskDescription,
		Action:   string(req.ActionType),
		Target:   req.TargetDescription,
		Approach: automation.ApproachAssist,
		Actions:  actions,
	})
	return actions, key
}

// buildSequence produces the canonical 3-step sequence. When an LLM client is
// wired, its one-line plan enriches the act step's description.
func (s *Synthesizer) buildSequence(ctx context.Context, req automation.ActionRequest, domContext string) []pattern.Action {
	actDescription := fmt.Sprintf("perform %s on %q", req.ActionType, req.TargetDescription)
	if plan := s.planWithLLM(ctx, req, domContext); plan != "" {
		actDescription = plan
	}

	act := pattern.Action{Type: "act", Description: actDescription}
	switch req.ActionType {
	case automation.ActionExtract:
		act.Type = "extract"
		act.Description = fmt.Sprintf("extract content from %q", req.TargetDescription)
		if schema, ok := req.ActionData["schema"]; ok {
			act.Options = map[string]interface{}{"schema": schema}
		}
	case automation.ActionTypeText:
		if text, ok := req.ActionData["text"].(string); ok {
			act.Options = map[string]interface{}{"text": text}
		}
	case automation.ActionSelect:
		if option, ok := req.ActionData["option"].(string); ok {
			act.Options = map[string]interface{}{"option": option}
		}
	}

	return []pattern.Action{
		{Type: "observe", Description: fmt.Sprintf("locate %q on the page", req.TargetDescription)},
		act,
		{Type: "observe", Description: "verify the action completed"},
	}
}

func (s *Synthesizer) planWithLLM(ctx context.Context, req automation.ActionRequest, domContext string) string {
	if s.client == nil {
		return ""
	}

	user := fmt.Sprintf("Task: %s\nAction: %s\nTarget: %s\n\nPage summary:\n%s",
		req.TaskDescription, req.ActionType, req.TargetDescription, domContext)
	resp, err := s.client.Generate(ctx, llm.Request{
		System:      synthesisPrompt,
		Messages:    []llm.Message{{Role: "user", Content: user}},
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("LLM synthesis failed, using templated sequence")
		return ""
	}
	return strings.TrimSpace(resp.Text)
}

// Execute synthesizes and runs the sequence for one request, updating the
// pattern's counters with the outcome.
func (s *Synthesizer) Execute(ctx context.Context, req automation.ActionRequest, domContext string) automation.ActionResult {
	start := time.Now()

	if avail := s.Probe(); avail != Available {
		errCtx := classify.ClassifyMessage(
			fmt.Sprintf("AI-Assist not configured: %s", avail),
			automation.ApproachAssist, nil)
		res := automation.Failure(automation.ApproachAssist, errCtx.Message)
		res.Recommendation = errCtx.Recommendation()
		res.ExecutionTime = time.Since(start)
		return res
	}

	if script, ok := req.ActionData["script"].(string); ok && script != "" {
		if res, handled := s.runScript(ctx, req, script); handled {
			res.ExecutionTime = time.Since(start)
			return res
		}
	}

	actions, key := s.Synthesize(ctx, req, domContext)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcome, err := s.runner.Run(runCtx, req, actions)
	if err != nil {
		s.cache.Mark(key, false)
		res := automation.Failure(automation.ApproachAssist, err.Error())
		res.ExecutionTime = time.Since(start)
		res.ResultData = map[string]interface{}{"actions": outcome.Executed}
		return res
	}

	confidence := outcome.Confidence
	if confidence == 0 {
		confidence = 0.75
	}
	if s.minConfidence > 0 && confidence < s.minConfidence {
		s.cache.Mark(key, false)
		res := automation.Failure(automation.ApproachAssist,
			fmt.Sprintf("execution confidence %.2f below threshold %.2f", confidence, s.minConfidence))
		res.Recommendation = "Lower ai_confidence_threshold or try the Vision approach"
		res.ExecutionTime = time.Since(start)
		res.ResultData = map[string]interface{}{"actions": outcome.Executed, "confidence": confidence}
		return res
	}

	s.cache.Mark(key, true)
	data := outcome.Data
	if data == nil {
		data = make(map[string]interface{})
	}
	data["actions"] = outcome.Executed

	return automation.ActionResult{
		Success:       true,
		ApproachUsed:  automation.ApproachAssist,
		Confidence:    confidence,
		ExecutionTime: time.Since(start),
		ResultData:    data,
	}
}

// runScript executes a caller-supplied snippet in the sandbox. Reports
// handled=false when no backend is configured so the request falls through to
// sequence synthesis.
func (s *Synthesizer) runScript(ctx context.Context, req automation.ActionRequest, script string) (automation.ActionResult, bool) {
	if s.exec == nil || !s.exec.Available() {
		s.log.Debug().Msg("script supplied but no sandbox backend, using synthesized sequence")
		return automation.ActionResult{}, false
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.exec.Execute(runCtx, script, map[string]interface{}{
		"url":  req.URL,
		"task": req.TaskDescription,
	})
	if err != nil {
		return automation.Failure(automation.ApproachAssist, err.Error()), true
	}
	if !out.Success {
		msg := strings.Join(out.Errors, "; ")
		if msg == "" {
			msg = "script execution failed"
		}
		res := automation.Failure(automation.ApproachAssist, msg)
		res.ResultData = map[string]interface{}{"output": out.Output}
		return res, true
	}

	return automation.ActionResult{
		Success:      true,
		ApproachUsed: automation.ApproachAssist,
		Confidence:   0.75,
		ResultData: map[string]interface{}{
			"result": out.Result,
			"output": out.Output,
		},
	}, true
}
