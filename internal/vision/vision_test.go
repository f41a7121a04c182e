package vision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"webpilot-mcp-server/internal/automation"

	"github.com/rs/zerolog"
)

func TestParseReport(t *testing.T) {
	tests := []struct {
		name       string
		report     string
		success    bool
		confidence float64
		errSubstr  string
	}{
		{"check mark", "✅ Found the product page", true, 0.8, ""},
		{"completed phrase", "Task Completed Successfully\nDetails follow", true, 0.8, ""},
		{"partial", "⚠️ Could not finish checkout", false, 0.4, "partially"},
		{"partial phrase", "Partially Completed: stuck at captcha", false, 0.4, "partially"},
		{"failed with issue", "❌ Task Failed\nIssue: login wall blocked the agent", false, 0.1, "login wall"},
		{"failed no issue", "Task Failed", false, 0.1, "vision task failed"},
		{"bedrock", "this model requires vision capabilities", false, 0.1, "requires vision"},
		{"garbage", "lorem ipsum", false, 0.1, "unrecognized"},
	}

	for _, tt := range tests {
		res := ParseReport(tt.report)
		if res.Success != tt.success {
			t.Errorf("%s: success = %v, want %v", tt.name, res.Success, tt.success)
		}
		if res.Confidence != tt.confidence {
			t.Errorf("%s: confidence = %.2f, want %.2f", tt.name, res.Confidence, tt.confidence)
		}
		if tt.errSubstr != "" && !strings.Contains(res.ErrorMessage, tt.errSubstr) {
			t.Errorf("%s: error %q does not mention %q", tt.name, res.ErrorMessage, tt.errSubstr)
		}
		if res.ApproachUsed != automation.ApproachVision {
			t.Errorf("%s: approach = %s", tt.name, res.ApproachUsed)
		}
		if res.ResultData["report"] != tt.report {
			t.Errorf("%s: raw report not preserved", tt.name)
		}
	}
}

func TestParseReportBedrockFlag(t *testing.T) {
	res := ParseReport("agent requires vision capabilities to proceed")
	if res.ResultData["bedrock_mode"] != true {
		t.Error("expected bedrock_mode flag")
	}
}

func TestIssueLine(t *testing.T) {
	report := "❌ Task Failed\nSteps taken: 4\n  Issue: element behind paywall\nEnd"
	if got := issueLine(report); got != "element behind paywall" {
		t.Errorf("issueLine = %q", got)
	}
	if got := issueLine("no issues here"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

// fakeAgent returns a canned report.
type fakeAgent struct {
	report string
	err    error

	gotTask     string
	gotURL      string
	gotMaxSteps int
	gotHeadless bool
}

func (f *fakeAgent) BrowseAndFind(_ context.Context, task, url string, maxSteps int, headless bool) (string, error) {
	f.gotTask = task
	f.gotURL = url
	f.gotMaxSteps = maxSteps
	f.gotHeadless = headless
	return f.report, f.err
}

func TestExecutorSuccess(t *testing.T) {
	agent := &fakeAgent{report: "✅ Done"}
	e := NewExecutor(agent, 15, 0, zerolog.Nop())

	req := automation.ActionRequest{
		URL:               "https://example.com",
		TaskDescription:   "find the pricing page",
		TargetDescription: "pricing link",
	}
	res := e.Execute(context.Background(), req)

	if !res.Success || res.Confidence != 0.8 {
		t.Errorf("unexpected result: %+v", res)
	}
	if agent.gotURL != req.URL {
		t.Errorf("url not passed through: %q", agent.gotURL)
	}
	if agent.gotMaxSteps != 15 {
		t.Errorf("max steps = %d, want 15", agent.gotMaxSteps)
	}
	if !agent.gotHeadless {
		t.Error("default run should be headless")
	}
	if !strings.Contains(agent.gotTask, "pricing link") {
		t.Errorf("target not folded into the task: %q", agent.gotTask)
	}
}

func TestExecutorShowBrowser(t *testing.T) {
	agent := &fakeAgent{report: "✅ Done"}
	e := NewExecutor(agent, 0, 0, zerolog.Nop())

	e.Execute(context.Background(), automation.ActionRequest{URL: "https://example.com", TaskDescription: "x", ShowBrowser: true})
	if agent.gotHeadless {
		t.Error("show_browser must run headful")
	}
}

func TestExecutorConfidenceFloor(t *testing.T) {
	agent := &fakeAgent{report: "✅ Done"}
	e := NewExecutor(agent, 0, 0, zerolog.Nop())
	e.SetMinConfidence(0.9)

	res := e.Execute(context.Background(), automation.ActionRequest{URL: "https://example.com", TaskDescription: "x"})
	if res.Success {
		t.Fatal("report confidence 0.8 under a 0.9 floor must fail")
	}
	if !strings.Contains(res.ErrorMessage, "below threshold") {
		t.Errorf("error should name the gate: %q", res.ErrorMessage)
	}

	// The floor only demotes successes; failed reports keep their own error.
	agent.report = "❌ Task Failed"
	res = e.Execute(context.Background(), automation.ActionRequest{URL: "https://example.com", TaskDescription: "x"})
	if !strings.Contains(res.ErrorMessage, "vision task failed") {
		t.Errorf("failed report error replaced: %q", res.ErrorMessage)
	}
}

func TestExecutorAgentError(t *testing.T) {
	agent := &fakeAgent{err: errors.New("agent binary exploded")}
	e := NewExecutor(agent, 0, 0, zerolog.Nop())

	res := e.Execute(context.Background(), automation.ActionRequest{URL: "https://example.com", TaskDescription: "x"})
	if res.Success {
		t.Error("expected failure")
	}
	if !strings.Contains(res.ErrorMessage, "exploded") {
		t.Errorf("error not propagated: %q", res.ErrorMessage)
	}
}

func TestExecutorUnavailable(t *testing.T) {
	e := NewExecutor(nil, 0, 0, zerolog.Nop())
	if e.Available() {
		t.Error("nil agent must not be available")
	}
	res := e.Execute(context.Background(), automation.ActionRequest{URL: "https://example.com", TaskDescription: "x"})
	if res.Success || res.Recommendation == "" {
		t.Errorf("unavailable executor should fail with a recommendation: %+v", res)
	}
}

func TestCommandAgentNotInstalled(t *testing.T) {
	if (&CommandAgent{}).Installed() {
		t.Error("empty command must not count as installed")
	}
	if NewCommandAgent([]string{"definitely-not-a-real-binary-xyz"}).Installed() {
		t.Error("unresolvable binary must not count as installed")
	}
}
