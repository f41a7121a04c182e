package automation

import "testing"

func TestParseApproach(t *testing.T) {
	tests := []struct {
		in      string
		want    Approach
		wantErr bool
	}{
		{"dom", ApproachDOM, false},
		{"dom_analysis", ApproachDOM, false},
		{"DOM-Analysis", ApproachDOM, false},
		{"ai", ApproachAssist, false},
		{"ai_assist", ApproachAssist, false},
		{"assist", ApproachAssist, false},
		{"vision", ApproachVision, false},
		{"visual", ApproachVision, false},
		{" Vision ", ApproachVision, false},
		{"telepathy", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseApproach(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseApproach(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseApproach(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseApproach(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApproachDisplay(t *testing.T) {
	if ApproachDOM.Display() != "DOM" {
		t.Errorf("unexpected display: %q", ApproachDOM.Display())
	}
	if ApproachAssist.Display() != "AI-Assist" {
		t.Errorf("unexpected display: %q", ApproachAssist.Display())
	}
	if ApproachVision.Display() != "Vision" {
		t.Errorf("unexpected display: %q", ApproachVision.Display())
	}
}

func TestNormalizedDefaults(t *testing.T) {
	req := ActionRequest{URL: "https://example.com", TaskDescription: "click the button"}
	norm := req.Normalized()

	if norm.ID == "" {
		t.Error("expected a generated ID")
	}
	if norm.ConfidenceThreshold != DefaultConfidenceThreshold {
		t.Errorf("expected default threshold %.2f, got %.2f", DefaultConfidenceThreshold, norm.ConfidenceThreshold)
	}
	if norm.ActionType != ActionAutomation {
		t.Errorf("expected default action type %q, got %q", ActionAutomation, norm.ActionType)
	}

	// Explicit values survive normalization.
	req = ActionRequest{ID: "fixed", URL: "https://example.com", TaskDescription: "x", ConfidenceThreshold: 0.5, ActionType: ActionClick}
	norm = req.Normalized()
	if norm.ID != "fixed" || norm.ConfidenceThreshold != 0.5 || norm.ActionType != ActionClick {
		t.Errorf("normalization overwrote explicit values: %+v", norm)
	}
}

func TestNormalizedOutOfRangeThreshold(t *testing.T) {
	req := ActionRequest{URL: "https://example.com", TaskDescription: "x", ConfidenceThreshold: 1.5}
	if got := req.Normalized().ConfidenceThreshold; got != DefaultConfidenceThreshold {
		t.Errorf("threshold 1.5 should reset to default, got %.2f", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ActionRequest
		wantErr bool
	}{
		{"valid", ActionRequest{URL: "https://example.com", TaskDescription: "click"}, false},
		{"missing url", ActionRequest{TaskDescription: "click"}, true},
		{"blank url", ActionRequest{URL: "   ", TaskDescription: "click"}, true},
		{"missing task", ActionRequest{URL: "https://example.com"}, true},
		{"bad force approach", ActionRequest{URL: "https://example.com", TaskDescription: "x", ForceApproach: "teleport"}, true},
		{"good force approach", ActionRequest{URL: "https://example.com", TaskDescription: "x", ForceApproach: ApproachVision}, false},
	}
	for _, tt := range tests {
		err := tt.req.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestWithData(t *testing.T) {
	res := ActionResult{Success: true}
	res2 := res.WithData("key", "value")

	if res.ResultData != nil {
		t.Error("WithData mutated the original result")
	}
	if res2.ResultData["key"] != "value" {
		t.Errorf("unexpected data: %+v", res2.ResultData)
	}

	res3 := res2.WithData("other", 42)
	if res3.ResultData["key"] != "value" || res3.ResultData["other"] != 42 {
		t.Errorf("unexpected merged data: %+v", res3.ResultData)
	}
}

func TestPageName(t *testing.T) {
	req := ActionRequest{ID: "abc"}
	if req.PageName() != "req-abc" {
		t.Errorf("unexpected page name: %q", req.PageName())
	}
}
