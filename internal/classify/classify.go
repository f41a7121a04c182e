// Package classify maps raw automation errors onto a fixed taxonomy with
// retryability and fallback hints. Classification is a pure function: the
// same error always yields the same category and flags.
package classify

import (
	"fmt"
	"strings"

	"webpilot-mcp-server/internal/automation"
)

// Category is the error taxonomy consumed by the retry engine and recovery.
type Category string

const (
	CategoryNetwork           Category = "network"
	CategoryPageLoad          Category = "page_load"
	CategoryElementNotFound   Category = "element_not_found"
	CategoryInteractionFailed Category = "interaction_failed"
	CategoryPermissionDenied  Category = "permission_denied"
	CategoryBrowser           Category = "browser"
	CategoryTimeout           Category = "timeout"
	CategoryConfiguration     Category = "configuration"
	CategoryUnknown           Category = "unknown"
)

// ErrorContext is the typed failure value that travels through the pipeline
// instead of exceptions.
type ErrorContext struct {
	Category     Category            `json:"category"`
	Message      string              `json:"message"`
	ApproachUsed automation.Approach `json:"approach_used"`
	Retryable    bool                `json:"retryable"`
	// RetryOnce marks errors that are not generally retryable for this
	// approach but deserve a single conservative retry.
	RetryOnce           bool                   `json:"retry_once,omitempty"`
	FallbackRecommended bool                   `json:"fallback_recommended"`
	ConfidenceImpact    float64                `json:"confidence_impact"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
}

func (e ErrorContext) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Category, e.ApproachUsed, e.Message)
}

// Classify maps an error to its ErrorContext. First matching rule wins.
func Classify(err error, approach automation.Approach, metadata map[string]interface{}) ErrorContext {
	if err == nil {
		return ErrorContext{Category: CategoryUnknown, ApproachUsed: approach, Retryable: true, FallbackRecommended: true, ConfidenceImpact: 0.2, Metadata: metadata}
	}
	return ClassifyMessage(err.Error(), approach, metadata)
}

// ClassifyMessage classifies a raw error message.
func ClassifyMessage(message string, approach automation.Approach, metadata map[string]interface{}) ErrorContext {
	msg := strings.ToLower(message)
	ec := ErrorContext{
		Message:      message,
		ApproachUsed: approach,
		Metadata:     metadata,
	}

	switch {
	case containsAny(msg, "connection", "dns", "unreachable", "httperror", "urlerror") ||
		(strings.Contains(msg, "timeout") && strings.Contains(msg, "network")):
		ec.Category = CategoryNetwork
		ec.Retryable = true
		ec.ConfidenceImpact = 0.1

	case containsAny(msg, "failed to load", "navigation", "page not found", "404", "500"):
		ec.Category = CategoryPageLoad
		ec.Retryable = true
		ec.FallbackRecommended = true
		ec.ConfidenceImpact = 0.2

	case containsAny(msg, "element not found", "no such element", "not visible", "selector", "xpath"):
		ec.Category = CategoryElementNotFound
		// Only the DOM approach benefits from retrying a missing element;
		// other approaches get one conservative retry for transient DOM churn.
		ec.Retryable = approach == automation.ApproachDOM
		ec.RetryOnce = approach != automation.ApproachDOM
		ec.FallbackRecommended = true
		ec.ConfidenceImpact = 0.3

	case containsAny(msg, "click failed", "not interactable", "intercepted", "obscured"):
		ec.Category = CategoryInteractionFailed
		ec.Retryable = true
		ec.FallbackRecommended = true
		ec.ConfidenceImpact = 0.2

	case containsAny(msg, "denied", "cors", "cross-origin", "forbidden", "security"):
		ec.Category = CategoryPermissionDenied
		ec.ConfidenceImpact = 0.5

	case containsAny(msg, "webdriver", "chromedriver", "driver", "session"):
		ec.Category = CategoryBrowser
		ec.Retryable = approach != automation.ApproachVision
		ec.FallbackRecommended = true
		ec.ConfidenceImpact = 0.4

	case containsAny(msg, "timeout", "timed out", "time limit", "deadline"):
		ec.Category = CategoryTimeout
		ec.Retryable = true
		ec.FallbackRecommended = approach == automation.ApproachDOM
		ec.ConfidenceImpact = 0.2

	case containsAny(msg, "config", "setup", "initialization", "not configured"):
		ec.Category = CategoryConfiguration
		ec.FallbackRecommended = true
		ec.ConfidenceImpact = 0.3

	default:
		ec.Category = CategoryUnknown
		ec.Retryable = true
		ec.FallbackRecommended = true
		ec.ConfidenceImpact = 0.2
	}

	return ec
}

// Recommendation produces the category-derived next step attached to every
// surfaced failure.
func (e ErrorContext) Recommendation() string {
	switch e.Category {
	case CategoryNetwork:
		return "Check network connectivity and retry; the target may be temporarily unreachable"
	case CategoryPageLoad:
		return "Verify the URL loads in a regular browser; consider a different approach if the page renders dynamically"
	case CategoryElementNotFound:
		return "Refine the target description or switch approach; the element may be rendered dynamically"
	case CategoryInteractionFailed:
		return "The element may be covered by an overlay; try show_browser to observe, or switch approach"
	case CategoryPermissionDenied:
		return "Access is blocked by the site; automation cannot proceed without credentials or allowed origin"
	case CategoryBrowser:
		return "Restart the browser session; the driver connection appears unhealthy"
	case CategoryTimeout:
		return "Increase the timeout or simplify the task; the page may be slow to settle"
	case CategoryConfiguration:
		return "Fix the component configuration before retrying; see the error message for the missing piece"
	default:
		return "Retry once; if the failure persists, try a different approach"
	}
}

// UserMessage renders the user-visible failure line: category, last approach,
// one-line cause, and the suggested next step.
func (e ErrorContext) UserMessage() string {
	cause := e.Message
	if i := strings.IndexByte(cause, '\n'); i >= 0 {
		cause = cause[:i]
	}
	return fmt.Sprintf("[%s] %s failed: %s. Next step: %s", e.Category, e.ApproachUsed, cause, e.Recommendation())
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
