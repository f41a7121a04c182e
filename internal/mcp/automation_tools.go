package mcp

import (
	"context"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/orchestrator"
	"webpilot-mcp-server/internal/pattern"
	"webpilot-mcp-server/internal/recovery"
)

func requestFromArgs(args map[string]interface{}) (automation.ActionRequest, error) {
	url, err := requiredString(args, "url")
	if err != nil {
		return automation.ActionRequest{}, err
	}
	task, err := requiredString(args, "task")
	if err != nil {
		return automation.ActionRequest{}, err
	}

	req := automation.ActionRequest{
		URL:                 url,
		TaskDescription:     task,
		ActionType:          automation.ActionType(stringArg(args, "action_type")),
		TargetDescription:   stringArg(args, "target"),
		ActionData:          mapArg(args, "action_data"),
		ConfidenceThreshold: floatArg(args, "confidence_threshold", 0),
		ShowBrowser:         boolArg(args, "show_browser"),
	}
	return req, nil
}

func resultPayload(res automation.ActionResult) map[string]interface{} {
	payload := map[string]interface{}{
		"success":           res.Success,
		"approach_used":     string(res.ApproachUsed),
		"confidence":        res.Confidence,
		"execution_time_ms": res.ExecutionTime.Milliseconds(),
	}
	if len(res.ResultData) > 0 {
		payload["result_data"] = res.ResultData
	}
	if res.ErrorMessage != "" {
		payload["error"] = res.ErrorMessage
	}
	if res.Recommendation != "" {
		payload["recommendation"] = res.Recommendation
	}
	return payload
}

// AutomateTool routes and executes one automation request.
type AutomateTool struct {
	orch *orchestrator.Orchestrator
}

func (t *AutomateTool) Name() string { return "automate" }
func (t *AutomateTool) Description() string {
	return `Execute a browser automation task against a URL.

The orchestrator analyzes the page, picks the best approach (DOM analysis,
AI-Assist, or Vision), executes with retries, and reports the outcome with a
confidence score. Failures carry a classified category and a recommended
next step.`
}
func (t *AutomateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":  map[string]interface{}{"type": "string", "description": "Absolute URL of the page"},
			"task": map[string]interface{}{"type": "string", "description": "Free-form task description"},
			"action_type": map[string]interface{}{
				"type": "string",
				"enum": []string{"click", "type", "select", "clear", "extract", "submit", "automation"},
			},
			"target":               map[string]interface{}{"type": "string", "description": "Description of the target element"},
			"action_data":          map[string]interface{}{"type": "object", "description": "Action payload, e.g. {\"text\": \"...\"}"},
			"confidence_threshold": map[string]interface{}{"type": "number", "description": "Minimum page confidence for the DOM path (default 0.7)"},
			"show_browser":         map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"url", "task"},
	}
}
func (t *AutomateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	req, err := requestFromArgs(args)
	if err != nil {
		return nil, err
	}
	return resultPayload(t.orch.Execute(ctx, req)), nil
}

// AutomateWithApproachTool forces a specific approach, bypassing routing.
type AutomateWithApproachTool struct {
	orch *orchestrator.Orchestrator
}

func (t *AutomateWithApproachTool) Name() string { return "automate-with-approach" }
func (t *AutomateWithApproachTool) Description() string {
	return `Execute an automation task with a forced approach (dom_analysis, ai_assist, or vision), bypassing routing.`
}
func (t *AutomateWithApproachTool) InputSchema() map[string]interface{} {
	schema := (&AutomateTool{}).InputSchema()
	props := schema["properties"].(map[string]interface{})
	props["approach"] = map[string]interface{}{
		"type": "string",
		"enum": []string{"dom_analysis", "ai_assist", "vision"},
	}
	schema["required"] = []string{"url", "task", "approach"}
	return schema
}
func (t *AutomateWithApproachTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	req, err := requestFromArgs(args)
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(args, "approach")
	if err != nil {
		return nil, err
	}
	approach, err := automation.ParseApproach(raw)
	if err != nil {
		return nil, err
	}
	return resultPayload(t.orch.ExecuteWithApproach(ctx, approach, req)), nil
}

// AnalyticsTool reports aggregated execution statistics.
type AnalyticsTool struct {
	orch *orchestrator.Orchestrator
}

func (t *AnalyticsTool) Name() string { return "analytics" }
func (t *AnalyticsTool) Description() string {
	return `Aggregated automation statistics: approach usage and success rates, recovery actions, and rolling error category distribution.`
}
func (t *AnalyticsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *AnalyticsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.orch.Analytics(), nil
}

// ClearHistoryTool drops the execution history.
type ClearHistoryTool struct {
	orch *orchestrator.Orchestrator
}

func (t *ClearHistoryTool) Name() string { return "clear-history" }
func (t *ClearHistoryTool) Description() string {
	return `Clear the execution history and per-URL failure memory.`
}
func (t *ClearHistoryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *ClearHistoryTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"cleared": t.orch.ClearHistory()}, nil
}

// SetInteractiveTool toggles the interactive recovery loop.
type SetInteractiveTool struct {
	orch *orchestrator.Orchestrator
}

func (t *SetInteractiveTool) Name() string { return "set-interactive" }
func (t *SetInteractiveTool) Description() string {
	return `Enable or disable interactive recovery. When disabled, failures surface immediately with a recommendation. Without a registered callback the default policy applies: try a different approach while one remains, then abort.`
}
func (t *SetInteractiveTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"enabled": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"enabled"},
	}
}
func (t *SetInteractiveTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	enabled := boolArg(args, "enabled")
	t.orch.EnableInteractiveMode(enabled)
	if !enabled {
		t.orch.SetUserCallback(nil)
	} else {
		// The default callback picks try_different while approaches remain.
		t.orch.SetUserCallback(func(ctx context.Context, rc recovery.Context) (recovery.Choice, error) {
			return recovery.Choice{Action: recovery.ActionTryDifferent}, nil
		})
	}
	return map[string]interface{}{"interactive": enabled}, nil
}

// PatternStatsTool exports the learned pattern cache.
type PatternStatsTool struct {
	patterns *pattern.Cache
}

func (t *PatternStatsTool) Name() string { return "pattern-stats" }
func (t *PatternStatsTool) Description() string {
	return `Learned task patterns sorted by success rate: key, task signature, approach, counters, and timestamps.`
}
func (t *PatternStatsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *PatternStatsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	stats := t.patterns.Stats()
	out := make([]map[string]interface{}, 0, len(stats))
	for _, rec := range stats {
		out = append(out, map[string]interface{}{
			"key":           rec.Key,
			"task":          rec.Task,
			"action":        rec.Action,
			"target":        rec.Target,
			"approach":      string(rec.Approach),
			"success_count": rec.SuccessCount,
			"failure_count": rec.FailureCount,
			"success_rate":  rec.SuccessRate(),
			"last_used":     rec.LastUsed,
			"created_at":    rec.CreatedAt,
		})
	}
	return map[string]interface{}{"patterns": out, "total": len(out)}, nil
}
