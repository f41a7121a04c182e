package mcp

import (
	"context"
	"fmt"

	"webpilot-mcp-server/internal/facts"
)

// QueryFactsTool runs a deductive query against the telemetry fact base.
type QueryFactsTool struct {
	engine *facts.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Query the telemetry fact base with a Mangle goal.

WHEN TO USE:
- Inspect recorded executions, error classifications, recovery events, or routing decisions
- Evaluate derived predicates such as failed_execution or approach_failure

WHAT IT DOES:
- Parses the goal, binds variables against the fact store, and returns the matching rows
- Example queries: execution(Id, Approach, Action, Success, Confidence), failed_execution(Id, Approach)`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle goal, e.g. execution(Id, Approach, Action, Success, Confidence)",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}
	if !t.engine.Ready() {
		return nil, fmt.Errorf("fact engine is not ready: schema not loaded")
	}

	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return map[string]interface{}{
		"query":   query,
		"results": results,
		"count":   len(results),
	}, nil
}

// SubmitRuleTool adds a derived-predicate rule to the fact engine.
type SubmitRuleTool struct {
	engine *facts.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Mangle rule deriving new predicates from the telemetry facts.

WHEN TO USE:
- Define a reusable view over the base predicates, e.g. flaky URLs or approaches that keep failing

WHAT IT DOES:
- Parses and analyzes the rule source, merges its declarations, and re-evaluates the program
- Rules persist for the lifetime of the server process`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle rule source, e.g. slow_path(Id) :- execution(Id, \"vision\", _, _, _).",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule, err := requiredString(args, "rule")
	if err != nil {
		return nil, err
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, fmt.Errorf("rule rejected: %w", err)
	}
	return map[string]interface{}{"accepted": true}, nil
}
