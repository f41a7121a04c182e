// Package automation holds the value types shared by every approach module
// and the orchestrator: requests, results, and the approach tags used for
// routing and history.
package automation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Approach identifies one of the three automation strategies.
type Approach string

const (
	ApproachDOM    Approach = "dom_analysis"
	ApproachAssist Approach = "ai_assist"
	ApproachVision Approach = "vision"
)

// Valid reports whether the tag names a known approach.
func (a Approach) Valid() bool {
	switch a {
	case ApproachDOM, ApproachAssist, ApproachVision:
		return true
	}
	return false
}

// Display renders the approach for user-facing messages.
func (a Approach) Display() string {
	switch a {
	case ApproachDOM:
		return "DOM"
	case ApproachAssist:
		return "AI-Assist"
	case ApproachVision:
		return "Vision"
	}
	return string(a)
}

// ParseApproach maps user-facing spellings onto an Approach tag.
func ParseApproach(s string) (Approach, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dom", "dom_analysis", "dom-analysis":
		return ApproachDOM, nil
	case "ai", "ai_assist", "ai-assist", "assist":
		return ApproachAssist, nil
	case "vision", "visual":
		return ApproachVision, nil
	}
	return "", errors.New("unknown approach: " + s)
}

// ActionType enumerates the concrete operations a request can ask for.
type ActionType string

const (
	ActionClick      ActionType = "click"
	ActionTypeText   ActionType = "type"
	ActionSelect     ActionType = "select"
	ActionClear      ActionType = "clear"
	ActionExtract    ActionType = "extract"
	ActionSubmit     ActionType = "submit"
	ActionAutomation ActionType = "automation"
)

// DefaultConfidenceThreshold applies when a request leaves the threshold unset.
const DefaultConfidenceThreshold = 0.7

// ActionRequest is the immutable input to the orchestrator.
type ActionRequest struct {
	ID                  string                 `json:"id"`
	URL                 string                 `json:"url"`
	TaskDescription     string                 `json:"task_description"`
	ActionType          ActionType             `json:"action_type"`
	TargetDescription   string                 `json:"target_description"`
	ActionData          map[string]interface{} `json:"action_data,omitempty"`
	ConfidenceThreshold float64                `json:"confidence_threshold"`
	ShowBrowser         bool                   `json:"show_browser"`

	// ForceApproach bypasses the routing decision when set.
	ForceApproach Approach `json:"force_approach,omitempty"`
}

// Normalized returns a copy with defaults applied: a generated ID, the
// default confidence threshold, and a generic action type.
func (r ActionRequest) Normalized() ActionRequest {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ConfidenceThreshold <= 0 || r.ConfidenceThreshold > 1 {
		r.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if r.ActionType == "" {
		r.ActionType = ActionAutomation
	}
	return r
}

// PageName derives the browser page key for this request. One request per
// page: contention across requests is made impossible by construction.
func (r ActionRequest) PageName() string {
	return "req-" + r.ID
}

// Validate checks the fields the orchestrator cannot default.
func (r ActionRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return errors.New("url is required")
	}
	if strings.TrimSpace(r.TaskDescription) == "" {
		return errors.New("task_description is required")
	}
	if r.ForceApproach != "" && !r.ForceApproach.Valid() {
		return errors.New("unknown force_approach: " + string(r.ForceApproach))
	}
	return nil
}

// ActionResult is the single terminal outcome of a request.
type ActionResult struct {
	Success        bool                   `json:"success"`
	ApproachUsed   Approach               `json:"approach_used"`
	Confidence     float64                `json:"confidence"`
	ExecutionTime  time.Duration          `json:"execution_time"`
	ResultData     map[string]interface{} `json:"result_data,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Recommendation string                 `json:"recommendation,omitempty"`
}

// Failure builds a failed result for the given approach.
func Failure(approach Approach, message string) ActionResult {
	return ActionResult{
		Success:      false,
		ApproachUsed: approach,
		ErrorMessage: message,
	}
}

// WithData returns a copy of the result with one data key set, allocating the
// map on first use.
func (r ActionResult) WithData(key string, value interface{}) ActionResult {
	data := make(map[string]interface{}, len(r.ResultData)+1)
	for k, v := range r.ResultData {
		data[k] = v
	}
	data[key] = value
	r.ResultData = data
	return r
}
