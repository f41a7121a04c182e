package orchestrator

import (
	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/classify"
	"webpilot-mcp-server/internal/recovery"
)

// Analytics is the aggregated view over execution history and retry records.
type Analytics struct {
	TotalExecutions int                             `json:"total_executions"`
	ApproachUsage   map[automation.Approach]int     `json:"approach_usage"`
	SuccessRates    map[automation.Approach]float64 `json:"success_rates"`
	RecoveryStats   map[recovery.Action]int         `json:"recovery_stats"`
	ErrorCategories map[classify.Category]int       `json:"error_categories"`
	PatternCount    int                             `json:"pattern_count"`
}

// Analytics aggregates the current history snapshot.
func (o *Orchestrator) Analytics() Analytics {
	history := o.state.snapshotHistory()

	usage := make(map[automation.Approach]int)
	wins := make(map[automation.Approach]int)
	recoveries := make(map[recovery.Action]int)
	for _, rec := range history {
		if rec.Approach != "" {
			usage[rec.Approach]++
			if rec.Success {
				wins[rec.Approach]++
			}
		}
		if rec.RecoveryAction != "" {
			recoveries[rec.RecoveryAction]++
		}
	}

	rates := make(map[automation.Approach]float64, len(usage))
	for approach, n := range usage {
		rates[approach] = float64(wins[approach]) / float64(n)
	}

	return Analytics{
		TotalExecutions: len(history),
		ApproachUsage:   usage,
		SuccessRates:    rates,
		RecoveryStats:   recoveries,
		ErrorCategories: o.retries.CategoryDistribution(),
		PatternCount:    o.patterns.Size(),
	}
}

// History returns a snapshot of the execution records, oldest first.
func (o *Orchestrator) History() []ExecutionRecord {
	return o.state.snapshotHistory()
}

// ClearHistory drops the execution history and URL failure memory, returning
// how many records were removed.
func (o *Orchestrator) ClearHistory() int {
	return o.state.clearHistory()
}
