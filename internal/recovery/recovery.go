// Package recovery builds the interactive failure context: ranked options,
// a user-visible explanation, and the callback contract the orchestrator
// consults before giving up on a request.
package recovery

import (
	"context"
	"fmt"
	"sort"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/classify"
	"webpilot-mcp-server/internal/llm"

	"github.com/rs/zerolog"
)

// Action is one of the recovery moves a user can pick.
type Action string

const (
	ActionRetrySame    Action = "retry_same"
	ActionTryDifferent Action = "try_different"
	ActionModifyTask   Action = "modify_task"
	ActionShowBrowser  Action = "show_browser"
	ActionManual       Action = "manual"
	ActionAbort        Action = "abort"
)

// Option is one selectable recovery move, ranked by confidence.
type Option struct {
	Action        Action  `json:"action"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Confidence    float64 `json:"confidence"`
	RequiresInput bool    `json:"requires_input"`
}

// Context is everything a user (or callback) needs to pick a recovery move.
type Context struct {
	Request     automation.ActionRequest `json:"request"`
	Error       classify.ErrorContext    `json:"error"`
	Failed      automation.ActionResult  `json:"failed_result"`
	Tried       []automation.Approach    `json:"tried_approaches"`
	Explanation string                   `json:"explanation"`
	Options     []Option                 `json:"options"`
	Analysis    string                   `json:"analysis,omitempty"`
}

// Choice is what the callback returns.
type Choice struct {
	Action Action
	// Input carries additional user text for modify_task.
	Input string
}

// Callback receives the failure context and picks a recovery move. A nil
// callback or a callback error falls back to try_different when another
// approach remains, otherwise abort.
type Callback func(ctx context.Context, rc Context) (Choice, error)

const analysisPrompt = `You are a browser automation assistant. Given a failed automation attempt,
explain in two sentences what likely went wrong and which recovery option is
most promising. Answer in plain language.`

// Manager constructs recovery contexts and resolves the user's choice.
type Manager struct {
	client llm.Client // optional, for the failure analysis
	log    zerolog.Logger
}

func NewManager(client llm.Client, log zerolog.Logger) *Manager {
	return &Manager{
		client: client,
		log:    log.With().Str("component", "recovery").Logger(),
	}
}

// Build assembles the interactive context for a failure. remaining lists the
// approaches not yet tried in this chain.
func (m *Manager) Build(ctx context.Context, req automation.ActionRequest, ec classify.ErrorContext, failed automation.ActionResult, tried, remaining []automation.Approach) Context {
	rc := Context{
		Request:     req,
		Error:       ec,
		Failed:      failed,
		Tried:       tried,
		Explanation: ec.UserMessage(),
		Options:     BuildOptions(ec, remaining),
	}
	rc.Analysis = m.analyze(ctx, rc)
	return rc
}

// BuildOptions generates the selectable moves, ranked by confidence
// descending.
func BuildOptions(ec classify.ErrorContext, remaining []automation.Approach) []Option {
	var opts []Option

	if ec.Retryable || ec.RetryOnce {
		opts = append(opts, Option{
			Action:      ActionRetrySame,
			Title:       "Retry the same approach",
			Description: fmt.Sprintf("Run %s again; the %s error may be transient", ec.ApproachUsed.Display(), ec.Category),
			Confidence:  0.6,
		})
	}

	for _, a := range remaining {
		opts = append(opts, Option{
			Action:      ActionTryDifferent,
			Title:       fmt.Sprintf("Switch to %s", a.Display()),
			Description: switchDescription(a),
			Confidence:  0.7,
		})
	}

	opts = append(opts,
		Option{
			Action:        ActionModifyTask,
			Title:         "Modify the task",
			Description:   "Rephrase the task or target description and run again",
			Confidence:    0.4,
			RequiresInput: true,
		},
		Option{
			Action:      ActionShowBrowser,
			Title:       "Show the browser",
			Description: "Re-run with a visible browser window to observe the failure",
			Confidence:  0.5,
		},
		Option{
			Action:      ActionManual,
			Title:       "Mark as done manually",
			Description: "You completed the step yourself; record it as a success",
			Confidence:  0.3,
		},
		Option{
			Action:      ActionAbort,
			Title:       "Abort",
			Description: "Stop working on this request",
			Confidence:  0.1,
		},
	)

	sort.SliceStable(opts, func(i, j int) bool {
		return opts[i].Confidence > opts[j].Confidence
	})
	return opts
}

func switchDescription(a automation.Approach) string {
	switch a {
	case automation.ApproachDOM:
		return "Use direct DOM analysis and element interaction"
	case automation.ApproachAssist:
		return "Let the AI synthesize and run an action sequence"
	case automation.ApproachVision:
		return "Hand the task to the visual agent"
	}
	return "Try a different automation strategy"
}

// Resolve consults the callback. Absent or failing callbacks default to
// try_different when another approach remains, otherwise abort.
func (m *Manager) Resolve(ctx context.Context, cb Callback, rc Context, remaining int) Choice {
	if cb == nil {
		return defaultChoice(remaining)
	}
	choice, err := cb(ctx, rc)
	if err != nil {
		m.log.Warn().Err(err).Msg("recovery callback failed, using default")
		return defaultChoice(remaining)
	}
	if !validAction(choice.Action) {
		m.log.Warn().Str("action", string(choice.Action)).Msg("unknown recovery action, using default")
		return defaultChoice(remaining)
	}
	return choice
}

func defaultChoice(remaining int) Choice {
	if remaining > 0 {
		return Choice{Action: ActionTryDifferent}
	}
	return Choice{Action: ActionAbort}
}

func validAction(a Action) bool {
	switch a {
	case ActionRetrySame, ActionTryDifferent, ActionModifyTask, ActionShowBrowser, ActionManual, ActionAbort:
		return true
	}
	return false
}

func (m *Manager) analyze(ctx context.Context, rc Context) string {
	if m.client == nil {
		return ""
	}

	user := fmt.Sprintf("Task: %s\nApproach: %s\nError category: %s\nError: %s\nApproaches tried: %d",
		rc.Request.TaskDescription, rc.Error.ApproachUsed.Display(), rc.Error.Category, rc.Error.Message, len(rc.Tried))
	resp, err := m.client.Generate(ctx, llm.Request{
		System:      analysisPrompt,
		Messages:    []llm.Message{{Role: "user", Content: user}},
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		m.log.Debug().Err(err).Msg("failure analysis unavailable")
		return ""
	}
	return resp.Text
}
