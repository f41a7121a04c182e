// Package route decides which approach serves a request: base confidence
// rules refined by task-type overrides, historical learning, and a vision
// cost check.
package route

import (
	"fmt"
	"math"
	"strings"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/dom"

	"github.com/rs/zerolog"
)

// TaskType buckets a request by what kind of work it describes.
type TaskType string

const (
	TaskSimpleInteraction TaskType = "simple_interaction"
	TaskFormInteraction   TaskType = "form_interaction"
	TaskComplexNavigation TaskType = "complex_navigation"
	TaskContentExtraction TaskType = "content_extraction"
	TaskGeneral           TaskType = "general"
)

// DecisionContext is the per-request routing input derived from the page.
type DecisionContext struct {
	DOMConfidence    float64               `json:"dom_confidence"`
	PageComplexity   dom.Complexity        `json:"page_complexity"`
	ElementCount     int                   `json:"element_count"`
	FormsCount       int                   `json:"forms_count"`
	PreviousFailures []automation.Approach `json:"previous_failures,omitempty"`
	UserPreference   automation.Approach   `json:"user_preference,omitempty"`
}

func (dc DecisionContext) failed(a automation.Approach) bool {
	for _, f := range dc.PreviousFailures {
		if f == a {
			return true
		}
	}
	return false
}

// Decision is the routing outcome attached to every history record.
type Decision struct {
	Approach      automation.Approach `json:"approach"`
	Reasoning     string              `json:"reasoning"`
	TaskType      TaskType            `json:"task_type"`
	EdgeCaseScore float64             `json:"edge_case_score,omitempty"`
	Context       DecisionContext     `json:"context"`
}

// HistoryRecord is the slice of execution history the decider learns from.
type HistoryRecord struct {
	Approach      automation.Approach
	Success       bool
	DOMConfidence float64
}

// Config is the decider's view of orchestrator settings.
type Config struct {
	ConfidenceThreshold float64
	DOMEnabled          bool
	AIAssistEnabled     bool
	VisionEnabled       bool
	VisionAvailable     bool
}

// Decider routes requests. History is supplied by the orchestrator through a
// snapshot callback so the decider holds no state of its own.
type Decider struct {
	cfg     Config
	history func() []HistoryRecord
	log     zerolog.Logger
}

func NewDecider(cfg Config, history func() []HistoryRecord, log zerolog.Logger) *Decider {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = automation.DefaultConfidenceThreshold
	}
	if history == nil {
		history = func() []HistoryRecord { return nil }
	}
	return &Decider{
		cfg:     cfg,
		history: history,
		log:     log.With().Str("component", "route").Logger(),
	}
}

// structuralFloor is the DOM confidence below which the base rules reject
// both structural approaches and pick Vision.
const structuralFloor = 0.3

// usable filters by enablement and by the recovery-chain invariant: an
// approach that already failed in this chain is not selected again.
func (d *Decider) usable(a automation.Approach, dc DecisionContext) bool {
	if dc.failed(a) {
		return false
	}
	switch a {
	case automation.ApproachDOM:
		return d.cfg.DOMEnabled
	case automation.ApproachAssist:
		return d.cfg.AIAssistEnabled
	case automation.ApproachVision:
		return d.cfg.VisionEnabled && d.cfg.VisionAvailable
	}
	return false
}

// Decide applies base rules then the enhanced overrides.
func (d *Decider) Decide(req automation.ActionRequest, dc DecisionContext) Decision {
	taskType := InferTaskType(req.TaskDescription, req.ActionType)
	threshold := d.cfg.ConfidenceThreshold

	approach, reasoning := d.baseRule(dc, threshold)
	approach, reasoning = d.applyOverrides(req, dc, taskType, approach, reasoning)

	var edgeScore float64
	if approach == automation.ApproachVision && dc.UserPreference == "" {
		edgeScore = EdgeCaseScore(req.TaskDescription, dc, taskType)
		if edgeScore < 0.5 {
			if d.cfg.AIAssistEnabled && !dc.failed(automation.ApproachAssist) {
				approach = automation.ApproachAssist
				reasoning = fmt.Sprintf("Edge-case score %.2f below vision threshold, downgraded to AI-Assist", edgeScore)
			} else if d.cfg.DOMEnabled && !dc.failed(automation.ApproachDOM) {
				approach = automation.ApproachDOM
				reasoning = fmt.Sprintf("Edge-case score %.2f below vision threshold, downgraded to DOM", edgeScore)
			}
		}
	}

	// Very analyzable pages always go through the DOM path.
	if dc.DOMConfidence >= 0.8 && dc.UserPreference == "" && d.usable(automation.ApproachDOM, dc) {
		approach = automation.ApproachDOM
		reasoning = fmt.Sprintf("DOM confidence %.2f is high, DOM preferred regardless of other signals", dc.DOMConfidence)
	}

	if !d.usable(approach, dc) {
		approach, reasoning = d.fallback(dc, approach, reasoning)
	}

	d.log.Debug().
		Str("approach", string(approach)).
		Str("task_type", string(taskType)).
		Float64("dom_confidence", dc.DOMConfidence).
		Str("reasoning", reasoning).
		Msg("routing decision")

	return Decision{
		Approach:      approach,
		Reasoning:     reasoning,
		TaskType:      taskType,
		EdgeCaseScore: edgeScore,
		Context:       dc,
	}
}

func (d *Decider) baseRule(dc DecisionContext, threshold float64) (automation.Approach, string) {
	switch {
	case dc.UserPreference != "":
		return dc.UserPreference, "User preference"
	case dc.DOMConfidence >= threshold:
		return automation.ApproachDOM, fmt.Sprintf("DOM confidence %.2f meets threshold %.2f", dc.DOMConfidence, threshold)
	case dc.FormsCount > 0 && dc.DOMConfidence >= 0.7*threshold:
		return automation.ApproachDOM, "Forms detected with acceptable DOM confidence"
	case dc.PageComplexity == dom.ComplexityComplex && dc.DOMConfidence >= 0.35:
		return automation.ApproachAssist, "Complex page with moderate DOM confidence favors AI-Assist"
	case dc.DOMConfidence < structuralFloor:
		return automation.ApproachVision, fmt.Sprintf("DOM confidence %.2f too low for structural approaches", dc.DOMConfidence)
	default:
		return automation.ApproachAssist, "Default to AI-Assist for intermediate confidence"
	}
}

func (d *Decider) applyOverrides(req automation.ActionRequest, dc DecisionContext, taskType TaskType, approach automation.Approach, reasoning string) (automation.Approach, string) {
	// User preference is never overridden.
	if dc.UserPreference != "" {
		return approach, reasoning
	}

	switch taskType {
	case TaskSimpleInteraction:
		if dc.DOMConfidence >= 0.5 && d.cfg.DOMEnabled {
			approach = automation.ApproachDOM
			reasoning = "Simple interaction with workable DOM confidence"
		}
	case TaskFormInteraction:
		switch {
		case dc.DOMConfidence >= 0.6 && d.cfg.DOMEnabled:
			approach = automation.ApproachDOM
			reasoning = "Form interaction with reliable DOM confidence"
		case dc.DOMConfidence >= 0.3 && d.cfg.AIAssistEnabled:
			approach = automation.ApproachAssist
			reasoning = "Form interaction with uncertain DOM, AI-Assist preferred"
		}
	case TaskComplexNavigation:
		if d.cfg.AIAssistEnabled && dc.DOMConfidence >= 0.4 {
			approach = automation.ApproachAssist
			reasoning = "Complex navigation suits AI-Assist planning"
		} else if d.cfg.VisionEnabled && d.cfg.VisionAvailable {
			approach = automation.ApproachVision
			reasoning = "Complex navigation with weak DOM falls back to Vision"
		}
	case TaskContentExtraction:
		if dc.DOMConfidence >= 0.5 && d.cfg.DOMEnabled {
			approach = automation.ApproachDOM
			reasoning = "Content extraction reads the DOM directly"
		}
	}

	if learned, rate, ok := d.learnFromHistory(dc); ok && learned != approach && d.usable(learned, dc) {
		approach = learned
		reasoning = fmt.Sprintf("Historical %s success rate %.2f at this confidence band", learned.Display(), rate)
	}

	return approach, reasoning
}

// learnFromHistory prefers an approach whose in-band success rate exceeds 0.8
// once enough history exists. Approaches need at least minBandRecords records
// in the band before their rate is trusted.
const (
	minHistoryForLearning = 10
	minBandRecords        = 3
	learnedRateFloor      = 0.8
)

func (d *Decider) learnFromHistory(dc DecisionContext) (automation.Approach, float64, bool) {
	records := d.history()
	if len(records) < minHistoryForLearning {
		return "", 0, false
	}

	lo, hi := confidenceBand(dc.DOMConfidence)
	total := make(map[automation.Approach]int)
	wins := make(map[automation.Approach]int)
	for _, rec := range records {
		if rec.DOMConfidence < lo || rec.DOMConfidence >= hi {
			continue
		}
		total[rec.Approach]++
		if rec.Success {
			wins[rec.Approach]++
		}
	}

	var best automation.Approach
	bestRate := learnedRateFloor
	for approach, n := range total {
		if n < minBandRecords {
			continue
		}
		rate := float64(wins[approach]) / float64(n)
		if rate > bestRate {
			best = approach
			bestRate = rate
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestRate, true
}

// confidenceBand returns the 0.2-wide band around a confidence value, with
// boundaries at 0.1, 0.3, 0.5, 0.7, 0.9.
func confidenceBand(c float64) (float64, float64) {
	lo := 0.1 + 0.2*math.Floor((c-0.1)/0.2)
	if lo < 0 {
		lo = 0
	}
	return lo, lo + 0.2
}

// fallback picks the next usable approach when the chosen one is disabled,
// unavailable, or already failed in this chain.
func (d *Decider) fallback(dc DecisionContext, wanted automation.Approach, reasoning string) (automation.Approach, string) {
	// Vision picked at rock-bottom confidence has no structural substitute:
	// the rules already rejected DOM and AI-Assist down there. Surface the
	// unusable pick so the caller reports the unavailability instead of
	// running an approach that was ruled out.
	if wanted == automation.ApproachVision && dc.DOMConfidence < structuralFloor && !dc.failed(automation.ApproachVision) {
		return wanted, reasoning + " (Vision unavailable, no structural substitute)"
	}

	for _, a := range []automation.Approach{automation.ApproachDOM, automation.ApproachAssist, automation.ApproachVision} {
		if a == wanted || !d.usable(a, dc) {
			continue
		}
		return a, fmt.Sprintf("%s unavailable, falling back to %s", wanted.Display(), a.Display())
	}
	// Nothing usable; surface the original choice so the orchestrator can
	// report why execution cannot proceed.
	return wanted, reasoning + " (no usable approach remains)"
}

// InferTaskType buckets the task from its description and action type.
func InferTaskType(task string, action automation.ActionType) TaskType {
	text := strings.ToLower(task)

	if action == automation.ActionExtract || containsAny(text, "extract", "scrape", "read the", "get text", "collect") {
		return TaskContentExtraction
	}
	if containsAny(text, "form", "fill", "login", "log in", "register", "sign up", "sign in", "checkout") ||
		action == automation.ActionTypeText || action == automation.ActionSubmit {
		return TaskFormInteraction
	}
	if containsAny(text, "navigate", "search for", "browse", "find the", "workflow", "multi-step", "then") {
		return TaskComplexNavigation
	}
	if action == automation.ActionClick || action == automation.ActionSelect || action == automation.ActionClear {
		return TaskSimpleInteraction
	}
	return TaskGeneral
}

// edgeKeywords signal pages where a visual agent genuinely outperforms
// structural approaches.
var edgeKeywords = []string{
	"dynamic", "javascript", "ajax", "react", "vue", "angular", "spa",
	"interactive", "animated", "popup", "modal", "dropdown", "autocomplete",
	"drag", "drop", "canvas", "svg", "iframe", "shadow", "complex", "multi-step",
}

// EdgeCaseScore estimates how much a request benefits from vision. Sum of
// component scores, capped at 1.0.
func EdgeCaseScore(task string, dc DecisionContext, taskType TaskType) float64 {
	var score float64

	switch dc.PageComplexity {
	case dom.ComplexitySimple:
		score += 0.1
	case dom.ComplexityModerate:
		score += 0.2
	case dom.ComplexityComplex:
		score += 0.3
	}

	switch {
	case dc.DOMConfidence < 0.2:
		score += 0.3
	case dc.DOMConfidence < 0.4:
		score += 0.2
	default:
		score += 0.1
	}

	switch taskType {
	case TaskComplexNavigation:
		score += 0.3
	case TaskFormInteraction, TaskContentExtraction:
		score += 0.2
	default:
		score += 0.1
	}

	if dc.ElementCount > 20 {
		score += 0.1
	} else if dc.ElementCount > 10 {
		score += 0.05
	}

	structuralFailures := 0
	for _, f := range dc.PreviousFailures {
		if f == automation.ApproachDOM || f == automation.ApproachAssist {
			structuralFailures++
		}
	}
	if structuralFailures >= 2 {
		score += 0.2
	} else if structuralFailures == 1 {
		score += 0.1
	}

	text := strings.ToLower(task)
	var keywordBonus float64
	for _, kw := range edgeKeywords {
		if strings.Contains(text, kw) {
			keywordBonus += 0.05
		}
	}
	score += math.Min(keywordBonus, 0.15)

	return math.Min(score, 1.0)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
