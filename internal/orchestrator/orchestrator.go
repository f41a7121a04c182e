// Package orchestrator runs the end-to-end pipeline for one request: DOM
// analysis, routing, approach execution under retry, interactive recovery,
// and history bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"webpilot-mcp-server/internal/assist"
	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/classify"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/dom"
	"webpilot-mcp-server/internal/facts"
	"webpilot-mcp-server/internal/pattern"
	"webpilot-mcp-server/internal/recorder"
	"webpilot-mcp-server/internal/recovery"
	"webpilot-mcp-server/internal/retry"
	"webpilot-mcp-server/internal/route"
	"webpilot-mcp-server/internal/vision"

	"github.com/rs/zerolog"
)

// historyCap bounds the execution history ring buffer.
const historyCap = 100

// failureWindow is how long a URL's approach failures influence routing.
const failureWindow = 10 * time.Minute

// Orchestrator wires the approach modules behind a single Execute surface.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	domExec  *dom.Executor
	synth    *assist.Synthesizer
	visual   *vision.Executor
	retries  *retry.Engine
	recover  *recovery.Manager
	patterns *pattern.Cache
	facts    *facts.Engine
	trace    *recorder.Recorder
	log      zerolog.Logger

	state *state
}

// ExecutionRecord is one entry of the execution history.
type ExecutionRecord struct {
	Timestamp      time.Time             `json:"timestamp"`
	RequestID      string                `json:"request_id"`
	URL            string                `json:"url"`
	Task           string                `json:"task"`
	ActionType     automation.ActionType `json:"action_type"`
	Approach       automation.Approach   `json:"approach"`
	Success        bool                  `json:"success"`
	Confidence     float64               `json:"confidence"`
	ExecutionTime  time.Duration         `json:"execution_time"`
	Reasoning      string                `json:"reasoning"`
	DOMConfidence  float64               `json:"dom_confidence"`
	Error          string                `json:"error,omitempty"`
	RecoveryAction recovery.Action       `json:"recovery_action,omitempty"`
	Tried          []automation.Approach `json:"tried,omitempty"`
}

func New(
	cfg config.OrchestratorConfig,
	domExec *dom.Executor,
	synth *assist.Synthesizer,
	visual *vision.Executor,
	retries *retry.Engine,
	recover *recovery.Manager,
	patterns *pattern.Cache,
	factsEngine *facts.Engine,
	trace *recorder.Recorder,
	log zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		domExec:  domExec,
		synth:    synth,
		visual:   visual,
		retries:  retries,
		recover:  recover,
		patterns: patterns,
		facts:    factsEngine,
		trace:    trace,
		log:      log.With().Str("component", "orchestrator").Logger(),
		state:    newState(cfg.Interactive),
	}
	return o
}

// SetUserCallback installs the interactive recovery callback.
func (o *Orchestrator) SetUserCallback(cb recovery.Callback) {
	o.state.setCallback(cb)
}

// EnableInteractiveMode toggles the recovery prompt loop.
func (o *Orchestrator) EnableInteractiveMode(on bool) {
	o.state.setInteractive(on)
}

// decider builds a routing decider over the current history snapshot.
func (o *Orchestrator) decider() *route.Decider {
	return route.NewDecider(route.Config{
		ConfidenceThreshold: o.cfg.DOMConfidenceThreshold,
		DOMEnabled:          o.cfg.DOMEnabled(),
		AIAssistEnabled:     o.cfg.AIAssistEnabled(),
		VisionEnabled:       o.cfg.VisionEnabled(),
		VisionAvailable:     o.visual.Available(),
	}, o.state.routingHistory, o.log)
}

// Execute runs the full pipeline and returns the single terminal result.
func (o *Orchestrator) Execute(ctx context.Context, req automation.ActionRequest) automation.ActionResult {
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return automation.Failure("", err.Error())
	}
	if o.cfg.ShowBrowser {
		req.ShowBrowser = true
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.GetTotalTimeout())
	defer cancel()

	o.trace.Log(recorder.EventRequest, req.ID, req)
	start := time.Now()

	analysis, err := o.domExec.AnalyzeRequest(ctx, req)
	if err != nil {
		res := automation.Failure(automation.ApproachDOM, err.Error())
		ec := classify.Classify(err, automation.ApproachDOM, nil)
		res.Recommendation = ec.Recommendation()
		res.ExecutionTime = time.Since(start)
		o.finish(ctx, req, res, route.Decision{Reasoning: "DOM analysis failed before routing"}, nil, "")
		return res
	}

	dc := o.decisionContext(req, analysis, nil)
	var decision route.Decision
	if req.ForceApproach != "" {
		decision = route.Decision{
			Approach:  req.ForceApproach,
			Reasoning: "Forced approach",
			Context:   dc,
		}
	} else if pd, ok := o.patternDecision(req, dc); ok {
		decision = pd
	} else {
		decision = o.decider().Decide(req, dc)
	}
	o.trace.Log(recorder.EventRouting, req.ID, decision)
	o.facts.RecordRouting(ctx, req.ID, string(decision.Approach), string(decision.TaskType))

	if !o.executable(decision.Approach) {
		res := automation.Failure(decision.Approach,
			fmt.Sprintf("%s approach is not available", decision.Approach.Display()))
		res.Recommendation = o.unavailableRecommendation(decision.Approach)
		res.ExecutionTime = time.Since(start)
		o.finish(ctx, req, res, decision, nil, "")
		return res
	}

	domContext := dom.FormatForAI(analysis, 10)
	result := o.runApproach(ctx, decision.Approach, req, domContext)

	tried := []automation.Approach{decision.Approach}
	var recoveryAction recovery.Action
	if !result.Success && o.state.interactive() {
		result, tried, recoveryAction = o.recoverLoop(ctx, req, result, decision, domContext, tried)
	}

	o.finish(ctx, req, result, decision, tried, recoveryAction)
	return result
}

// ExecuteWithApproach forces one approach, bypassing routing.
func (o *Orchestrator) ExecuteWithApproach(ctx context.Context, approach automation.Approach, req automation.ActionRequest) automation.ActionResult {
	req.ForceApproach = approach
	return o.Execute(ctx, req)
}

func (o *Orchestrator) decisionContext(req automation.ActionRequest, analysis dom.Analysis, failures []automation.Approach) route.DecisionContext {
	prior := o.state.urlFailures(req.URL, failureWindow)
	merged := append(append([]automation.Approach{}, prior...), failures...)

	var pref automation.Approach
	if o.cfg.PreferredApproach != "" {
		if a, err := automation.ParseApproach(o.cfg.PreferredApproach); err == nil {
			pref = a
		}
	}

	return route.DecisionContext{
		DOMConfidence:    analysis.Confidence,
		PageComplexity:   analysis.PageComplexity(),
		ElementCount:     len(analysis.Interactive),
		FormsCount:       len(analysis.Forms),
		PreviousFailures: merged,
		UserPreference:   pref,
	}
}

// patternTrustRate is the success rate a learned pattern needs before it
// short-circuits routing.
const patternTrustRate = 0.8

// patternDecision routes straight to the approach a trusted pattern learned
// for this task signature. User preference, the recovery-chain invariant, and
// availability all still win over the pattern.
func (o *Orchestrator) patternDecision(req automation.ActionRequest, dc route.DecisionContext) (route.Decision, bool) {
	if dc.UserPreference != "" {
		return route.Decision{}, false
	}
	rec, ok := o.patterns.Lookup(req.TaskDescription, string(req.ActionType), req.TargetDescription)
	if !ok || rec.SuccessRate() < patternTrustRate {
		return route.Decision{}, false
	}
	if contains(dc.PreviousFailures, rec.Approach) || !o.executable(rec.Approach) {
		return route.Decision{}, false
	}
	return route.Decision{
		Approach: rec.Approach,
		Reasoning: fmt.Sprintf("Learned pattern: %s succeeded %d of %d times for this task",
			rec.Approach.Display(), rec.SuccessCount, rec.Attempts()),
		TaskType: route.InferTaskType(req.TaskDescription, req.ActionType),
		Context:  dc,
	}, true
}

func (o *Orchestrator) executable(a automation.Approach) bool {
	switch a {
	case automation.ApproachDOM:
		return o.cfg.DOMEnabled()
	case automation.ApproachAssist:
		return o.cfg.AIAssistEnabled() && o.synth.Probe() == assist.Available
	case automation.ApproachVision:
		return o.cfg.VisionEnabled() && o.visual.Available()
	}
	return false
}

func (o *Orchestrator) unavailableRecommendation(a automation.Approach) string {
	switch a {
	case automation.ApproachVision:
		return "Vision approach unavailable: install the visual agent or enable DOM/AI-Assist"
	case automation.ApproachAssist:
		return "AI-Assist unavailable: configure an LLM provider or enable another approach"
	default:
		return "Enable at least one automation approach in the configuration"
	}
}

// runApproach executes one approach under the retry engine.
func (o *Orchestrator) runApproach(ctx context.Context, approach automation.Approach, req automation.ActionRequest, domContext string) automation.ActionResult {
	op := func(ctx context.Context) automation.ActionResult {
		switch approach {
		case automation.ApproachDOM:
			return o.domExec.Execute(ctx, req)
		case automation.ApproachAssist:
			return o.synth.Execute(ctx, req, domContext)
		case automation.ApproachVision:
			return o.visual.Execute(ctx, req)
		}
		return automation.Failure(approach, "unknown approach: "+string(approach))
	}

	res := o.retries.RunWithBudget(ctx, approach, o.cfg.MaxRetriesPerApproach, op)
	o.trace.Log(recorder.EventAttempt, req.ID, res)
	return res
}

// recoverLoop drives interactive recovery until a terminal result. An
// approach is never selected twice in one chain unless the user picks
// retry_same.
func (o *Orchestrator) recoverLoop(ctx context.Context, req automation.ActionRequest, failed automation.ActionResult, decision route.Decision, domContext string, tried []automation.Approach) (automation.ActionResult, []automation.Approach, recovery.Action) {
	var lastAction recovery.Action

	for {
		ec := classify.ClassifyMessage(failed.ErrorMessage, failed.ApproachUsed, nil)
		o.facts.RecordErrorClass(ctx, req.ID, string(failed.ApproachUsed), string(ec.Category))

		remaining := o.remainingApproaches(tried)
		rc := o.recover.Build(ctx, req, ec, failed, tried, remaining)
		choice := o.recover.Resolve(ctx, o.state.callback(), rc, len(remaining))
		lastAction = choice.Action
		o.trace.Log(recorder.EventRecovery, req.ID, map[string]interface{}{
			"action": choice.Action, "category": ec.Category,
		})
		o.facts.RecordRecovery(ctx, req.ID, string(choice.Action), string(failed.ApproachUsed))

		switch choice.Action {
		case recovery.ActionRetrySame:
			res := o.runApproach(ctx, failed.ApproachUsed, req, domContext)
			return res, tried, lastAction

		case recovery.ActionShowBrowser:
			shown := req
			shown.ShowBrowser = true
			res := o.runApproach(ctx, failed.ApproachUsed, shown, domContext)
			return res, tried, lastAction

		case recovery.ActionManual:
			res := automation.ActionResult{
				Success:      true,
				ApproachUsed: failed.ApproachUsed,
				Confidence:   1.0,
				ResultData:   map[string]interface{}{"manual": true},
			}
			return res, tried, lastAction

		case recovery.ActionModifyTask:
			res := automation.Failure(failed.ApproachUsed, "task requires modification")
			res.ResultData = map[string]interface{}{
				"modify_task":      true,
				"additional_input": choice.Input,
			}
			res.Recommendation = "Adjust the task description and submit again"
			return res, tried, lastAction

		case recovery.ActionAbort:
			res := failed
			res.ResultData = res.WithData("aborted", true).ResultData
			res.Recommendation = "Aborted at user request"
			return res, tried, lastAction

		case recovery.ActionTryDifferent:
			if len(remaining) == 0 {
				res := failed
				res.ResultData = res.WithData("aborted", true).ResultData
				res.Recommendation = "All approaches exhausted"
				return res, tried, lastAction
			}

			dc := o.decisionContext(req, dom.Analysis{Confidence: decision.Context.DOMConfidence,
				TotalElements: decision.Context.ElementCount}, tried)
			dc.PageComplexity = decision.Context.PageComplexity
			dc.ElementCount = decision.Context.ElementCount
			dc.FormsCount = decision.Context.FormsCount
			dc.PreviousFailures = append([]automation.Approach{}, tried...)

			next := o.decider().Decide(req, dc)
			if !o.executable(next.Approach) || contains(tried, next.Approach) {
				res := failed
				res.Recommendation = "No usable approach remains after " + failed.ApproachUsed.Display()
				return res, tried, lastAction
			}

			prev := failed.ApproachUsed
			res := o.runApproach(ctx, next.Approach, req, domContext)
			tried = append(tried, next.Approach)
			if res.Success {
				res.Recommendation = fmt.Sprintf("Recovered from %s failure via %s", prev, next.Approach.Display())
				return res, tried, lastAction
			}
			failed = res
			// Loop again with the grown chain.

		default:
			return failed, tried, lastAction
		}
	}
}

func (o *Orchestrator) remainingApproaches(tried []automation.Approach) []automation.Approach {
	var out []automation.Approach
	for _, a := range []automation.Approach{automation.ApproachDOM, automation.ApproachAssist, automation.ApproachVision} {
		if !contains(tried, a) && o.executable(a) {
			out = append(out, a)
		}
	}
	return out
}

// finish writes the single history record for a terminal result and emits
// telemetry.
func (o *Orchestrator) finish(ctx context.Context, req automation.ActionRequest, res automation.ActionResult, decision route.Decision, tried []automation.Approach, recoveryAction recovery.Action) {
	rec := ExecutionRecord{
		Timestamp:      time.Now(),
		RequestID:      req.ID,
		URL:            req.URL,
		Task:           req.TaskDescription,
		ActionType:     req.ActionType,
		Approach:       res.ApproachUsed,
		Success:        res.Success,
		Confidence:     res.Confidence,
		ExecutionTime:  res.ExecutionTime,
		Reasoning:      decision.Reasoning,
		DOMConfidence:  decision.Context.DOMConfidence,
		Error:          res.ErrorMessage,
		RecoveryAction: recoveryAction,
		Tried:          tried,
	}
	o.state.appendHistory(rec)
	if !res.Success {
		o.state.noteFailure(req.URL, res.ApproachUsed)
	}

	o.patterns.RecordOutcome(req.TaskDescription, string(req.ActionType), req.TargetDescription,
		res.ApproachUsed, res.Success, res.Confidence)
	o.facts.RecordExecution(ctx, req.ID, string(res.ApproachUsed), string(req.ActionType), res.Success, res.Confidence)
	o.trace.Log(recorder.EventResult, req.ID, res)

	o.log.Info().
		Str("request_id", req.ID).
		Str("approach", string(res.ApproachUsed)).
		Bool("success", res.Success).
		Float64("confidence", res.Confidence).
		Dur("execution_time", res.ExecutionTime).
		Msg("request finished")
}

func contains(list []automation.Approach, a automation.Approach) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
