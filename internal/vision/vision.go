// Package vision wraps an external autonomous visual agent and parses its
// free-form textual reports into structured results.
package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"webpilot-mcp-server/internal/automation"

	"github.com/rs/zerolog"
)

// Executor is the Vision approach. It drives the wrapped agent and converts
// its report into an ActionResult.
type Executor struct {
	agent    Agent
	maxSteps int
	timeout  time.Duration
	// minConfidence demotes reports parsed below it to failures; zero
	// disables the gate.
	minConfidence float64
	log           zerolog.Logger
}

func NewExecutor(agent Agent, maxSteps int, timeout time.Duration, log zerolog.Logger) *Executor {
	if maxSteps <= 0 {
		maxSteps = 20
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Executor{
		agent:    agent,
		maxSteps: maxSteps,
		timeout:  timeout,
		log:      log.With().Str("component", "vision").Logger(),
	}
}

// SetMinConfidence installs the report-confidence floor.
func (e *Executor) SetMinConfidence(min float64) {
	e.minConfidence = min
}

// Available reports whether an agent is wired and resolvable.
func (e *Executor) Available() bool {
	if e.agent == nil {
		return false
	}
	if ca, ok := e.agent.(*CommandAgent); ok {
		return ca.Installed()
	}
	return true
}

// Execute runs the visual agent for one request.
func (e *Executor) Execute(ctx context.Context, req automation.ActionRequest) automation.ActionResult {
	start := time.Now()

	if !e.Available() {
		res := automation.Failure(automation.ApproachVision, "vision agent not configured")
		res.Recommendation = "install and configure the visual agent, or enable another approach"
		res.ExecutionTime = time.Since(start)
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	task := req.TaskDescription
	if req.TargetDescription != "" {
		task += " (target: " + req.TargetDescription + ")"
	}

	report, err := e.agent.BrowseAndFind(runCtx, task, req.URL, e.maxSteps, !req.ShowBrowser)
	if err != nil {
		res := automation.Failure(automation.ApproachVision, err.Error())
		res.ExecutionTime = time.Since(start)
		return res
	}

	res := ParseReport(report)
	if res.Success && e.minConfidence > 0 && res.Confidence < e.minConfidence {
		res.Success = false
		res.ErrorMessage = fmt.Sprintf("vision confidence %.2f below threshold %.2f", res.Confidence, e.minConfidence)
		res.Recommendation = "Lower vision_confidence_threshold or verify the task manually"
	}
	res.ExecutionTime = time.Since(start)
	e.log.Debug().
		Bool("success", res.Success).
		Float64("confidence", res.Confidence).
		Msg("vision report parsed")
	return res
}

// ParseReport maps the agent's leading tokens and marker phrases onto a
// structured result. Matching is ordered; the first marker found wins.
// Reports without any recognized marker fall through to a low-confidence
// failure.
func ParseReport(report string) automation.ActionResult {
	res := automation.ActionResult{
		ApproachUsed: automation.ApproachVision,
		ResultData:   map[string]interface{}{"report": report},
	}

	switch {
	case strings.Contains(report, "✅") || strings.Contains(report, "Task Completed Successfully"):
		res.Success = true
		res.Confidence = 0.8

	case strings.Contains(report, "⚠️") || strings.Contains(report, "Partially Completed"):
		res.Confidence = 0.4
		res.ResultData["partial_success"] = true
		res.ErrorMessage = "task only partially completed"

	case strings.Contains(report, "❌") || strings.Contains(report, "Task Failed"):
		res.Confidence = 0.1
		res.ErrorMessage = "vision task failed"
		if issue := issueLine(report); issue != "" {
			res.ErrorMessage = issue
		}

	case strings.Contains(report, "requires vision capabilities"):
		res.Confidence = 0.1
		res.ErrorMessage = "agent requires vision capabilities"
		res.ResultData["bedrock_mode"] = true

	default:
		res.Confidence = 0.1
		res.ErrorMessage = "unrecognized vision report"
	}

	return res
}

// issueLine extracts the first "Issue:" line from a report.
func issueLine(report string) string {
	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Issue:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
