package dom

import (
	"context"
	"fmt"
	"time"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/browser"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"
)

// settleGrace is how long the network must stay quiet after an interaction
// before the page counts as settled.
const settleGrace = 300 * time.Millisecond

// SessionRestorer installs saved cookies into a page keyed by the request's
// domain. The auth session store satisfies this.
type SessionRestorer interface {
	Restore(domain string, page *rod.Page) error
}

// Executor performs concrete element actions located by description.
type Executor struct {
	mgr      *browser.Manager
	analyzer *Analyzer
	sessions SessionRestorer // nil when no session store is wired
	log      zerolog.Logger
}

func NewExecutor(mgr *browser.Manager, analyzer *Analyzer, log zerolog.Logger) *Executor {
	return &Executor{
		mgr:      mgr,
		analyzer: analyzer,
		log:      log.With().Str("component", "dom-executor").Logger(),
	}
}

// SetSessionStore wires saved-session restoration into page preparation.
func (e *Executor) SetSessionStore(sessions SessionRestorer) {
	e.sessions = sessions
}

// Execute runs one action against the page assigned to the request.
func (e *Executor) Execute(ctx context.Context, req automation.ActionRequest) automation.ActionResult {
	start := time.Now()
	fail := func(msg string) automation.ActionResult {
		res := automation.Failure(automation.ApproachDOM, msg)
		res.ExecutionTime = time.Since(start)
		return res
	}

	page, err := e.preparePage(ctx, req)
	if err != nil {
		return fail(err.Error())
	}

	analysis, err := e.analyzer.Analyze(page)
	if err != nil {
		return fail(err.Error())
	}

	if analysis.Confidence < req.ConfidenceThreshold {
		res := fail(fmt.Sprintf("page analysis confidence %.2f below threshold %.2f", analysis.Confidence, req.ConfidenceThreshold))
		res.Recommendation = "use AI-Assist"
		res.ResultData = map[string]interface{}{"dom_confidence": analysis.Confidence}
		return res
	}

	el, ok := MatchElement(analysis.Interactive, req.TargetDescription)
	if !ok {
		return fail(fmt.Sprintf("element not found: %q", req.TargetDescription))
	}

	live, err := e.locate(page, el)
	if err != nil {
		return fail(fmt.Sprintf("element not found: %q resolved to stale selector %s", req.TargetDescription, el.Selector))
	}

	data, err := e.perform(page, live, el, req)
	if err != nil {
		return fail(err.Error())
	}

	e.settle(page)

	res := automation.ActionResult{
		Success:       true,
		ApproachUsed:  automation.ApproachDOM,
		Confidence:    el.Confidence,
		ExecutionTime: time.Since(start),
		ResultData:    data,
	}
	return res
}

// AnalyzeRequest loads the request's page and returns a fresh analysis. The
// orchestrator uses this before routing; Execute re-analyzes on its own.
func (e *Executor) AnalyzeRequest(ctx context.Context, req automation.ActionRequest) (Analysis, error) {
	page, err := e.preparePage(ctx, req)
	if err != nil {
		return Analysis{}, err
	}
	return e.analyzer.Analyze(page)
}

// preparePage navigates the request's page to the target URL when needed.
func (e *Executor) preparePage(ctx context.Context, req automation.ActionRequest) (*rod.Page, error) {
	if err := e.mgr.Ensure(ctx, req.ShowBrowser); err != nil {
		return nil, err
	}
	page, err := e.mgr.GetPage(ctx, browser.DefaultContext, req.PageName())
	if err != nil {
		return nil, err
	}

	timeout := e.mgr.NavigationTimeout()
	info, err := page.Info()
	if err != nil || info.URL != req.URL {
		// Cookies must land before the navigation so the site sees them.
		e.restoreSession(page, req.URL)
		if err := page.Timeout(timeout).Navigate(req.URL); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", req.URL, err)
		}
		if err := page.Timeout(timeout).WaitLoad(); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", req.URL, err)
		}
	}
	return page, nil
}

// restoreSession is best effort: a missing or expired session is the normal
// case and the page loads without cookies.
func (e *Executor) restoreSession(page *rod.Page, url string) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.Restore(url, page); err != nil {
		e.log.Debug().Err(err).Str("url", url).Msg("no session restored")
		return
	}
	e.log.Info().Str("url", url).Msg("session cookies restored")
}

func (e *Executor) locate(page *rod.Page, el Element) (*rod.Element, error) {
	timeout := 2 * time.Second
	if el.Selector != "" {
		if live, err := page.Timeout(timeout).Element(el.Selector); err == nil {
			return live, nil
		}
	}
	if el.XPath != "" {
		if live, err := page.Timeout(timeout).ElementX(el.XPath); err == nil {
			return live, nil
		}
	}
	return nil, fmt.Errorf("no such element: %s", el.Selector)
}

func (e *Executor) perform(page *rod.Page, live *rod.Element, el Element, req automation.ActionRequest) (map[string]interface{}, error) {
	data := map[string]interface{}{
		"element_text":     el.Text,
		"element_selector": el.Selector,
	}

	switch req.ActionType {
	case automation.ActionClick, automation.ActionSubmit:
		if err := live.Click("left", 1); err != nil {
			return nil, fmt.Errorf("click failed: %w", err)
		}

	case automation.ActionTypeText:
		text, ok := req.ActionData["text"].(string)
		if !ok || text == "" {
			return nil, fmt.Errorf("type action requires action_data.text")
		}
		if err := live.SelectAllText(); err == nil {
			_ = live.Input("")
		}
		if err := live.Input(text); err != nil {
			return nil, fmt.Errorf("type failed: %w", err)
		}
		data["typed"] = text

	case automation.ActionSelect:
		option, ok := req.ActionData["option"].(string)
		if !ok || option == "" {
			return nil, fmt.Errorf("select action requires action_data.option")
		}
		if err := live.Select([]string{option}, true, "text"); err != nil {
			if err := live.Select([]string{option}, true, "value"); err != nil {
				return nil, fmt.Errorf("select failed: option %q not found", option)
			}
		}
		data["selected"] = option

	case automation.ActionClear:
		if err := live.SelectAllText(); err == nil {
			_ = live.Input("")
		}

	case automation.ActionExtract:
		text, err := live.Text()
		if err != nil {
			return nil, fmt.Errorf("extract failed: %w", err)
		}
		data["extracted_text"] = text
		if schema, ok := req.ActionData["schema"]; ok {
			data["schema"] = schema
		}

	default:
		// Generic automation on the DOM path degrades to a click on the
		// matched element.
		if err := live.Click("left", 1); err != nil {
			return nil, fmt.Errorf("click failed: %w", err)
		}
	}

	return data, nil
}

// settle waits for the page to quiesce after an interaction, bounded by the
// configured navigation timeout.
func (e *Executor) settle(page *rod.Page) {
	timeout := e.mgr.NavigationTimeout()
	bounded := page.Timeout(timeout)
	wait := bounded.WaitRequestIdle(settleGrace, nil, nil, nil)
	wait()
	_ = bounded.WaitLoad()
}
