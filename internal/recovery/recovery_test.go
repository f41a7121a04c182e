package recovery

import (
	"context"
	"errors"
	"testing"

	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/classify"

	"github.com/rs/zerolog"
)

func TestBuildOptionsRetryableError(t *testing.T) {
	ec := classify.ClassifyMessage("connection refused", automation.ApproachDOM, nil)
	opts := BuildOptions(ec, []automation.Approach{automation.ApproachAssist, automation.ApproachVision})

	if opts[0].Action != ActionTryDifferent {
		t.Errorf("highest-confidence option should be try_different, got %s", opts[0].Action)
	}

	var actions []Action
	for _, o := range opts {
		actions = append(actions, o.Action)
	}
	for _, want := range []Action{ActionRetrySame, ActionTryDifferent, ActionModifyTask, ActionShowBrowser, ActionManual, ActionAbort} {
		if !containsAction(actions, want) {
			t.Errorf("missing option %s in %v", want, actions)
		}
	}

	// Two remaining approaches produce two switch options.
	switches := 0
	for _, o := range opts {
		if o.Action == ActionTryDifferent {
			switches++
		}
	}
	if switches != 2 {
		t.Errorf("expected 2 switch options, got %d", switches)
	}
}

func TestBuildOptionsNonRetryableOmitsRetry(t *testing.T) {
	ec := classify.ClassifyMessage("request forbidden by cors policy", automation.ApproachDOM, nil)
	opts := BuildOptions(ec, nil)
	for _, o := range opts {
		if o.Action == ActionRetrySame {
			t.Error("non-retryable error must not offer retry_same")
		}
	}
}

func TestBuildOptionsSortedByConfidence(t *testing.T) {
	ec := classify.ClassifyMessage("operation timed out", automation.ApproachDOM, nil)
	opts := BuildOptions(ec, []automation.Approach{automation.ApproachVision})
	for i := 1; i < len(opts); i++ {
		if opts[i].Confidence > opts[i-1].Confidence {
			t.Errorf("options not sorted at %d: %.2f > %.2f", i, opts[i].Confidence, opts[i-1].Confidence)
		}
	}
}

func TestModifyTaskRequiresInput(t *testing.T) {
	ec := classify.ClassifyMessage("x", automation.ApproachDOM, nil)
	for _, o := range BuildOptions(ec, nil) {
		if o.Action == ActionModifyTask && !o.RequiresInput {
			t.Error("modify_task must require input")
		}
		if o.Action != ActionModifyTask && o.RequiresInput {
			t.Errorf("%s must not require input", o.Action)
		}
	}
}

func TestResolveNilCallback(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())

	if got := m.Resolve(context.Background(), nil, Context{}, 2); got.Action != ActionTryDifferent {
		t.Errorf("nil callback with remaining approaches should try_different, got %s", got.Action)
	}
	if got := m.Resolve(context.Background(), nil, Context{}, 0); got.Action != ActionAbort {
		t.Errorf("nil callback with nothing remaining should abort, got %s", got.Action)
	}
}

func TestResolveCallbackError(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	cb := func(ctx context.Context, rc Context) (Choice, error) {
		return Choice{}, errors.New("user went home")
	}
	if got := m.Resolve(context.Background(), cb, Context{}, 1); got.Action != ActionTryDifferent {
		t.Errorf("failing callback should fall back to default, got %s", got.Action)
	}
}

func TestResolveInvalidAction(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	cb := func(ctx context.Context, rc Context) (Choice, error) {
		return Choice{Action: "summon_wizard"}, nil
	}
	if got := m.Resolve(context.Background(), cb, Context{}, 0); got.Action != ActionAbort {
		t.Errorf("invalid action should fall back to default, got %s", got.Action)
	}
}

func TestResolveHonorsChoice(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	cb := func(ctx context.Context, rc Context) (Choice, error) {
		return Choice{Action: ActionModifyTask, Input: "use the other button"}, nil
	}
	got := m.Resolve(context.Background(), cb, Context{}, 2)
	if got.Action != ActionModifyTask || got.Input != "use the other button" {
		t.Errorf("choice not honored: %+v", got)
	}
}

func TestBuildContext(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	req := automation.ActionRequest{URL: "https://example.com", TaskDescription: "log in"}
	ec := classify.ClassifyMessage("element not found: login button", automation.ApproachDOM, nil)
	failed := automation.Failure(automation.ApproachDOM, "element not found: login button")

	rc := m.Build(context.Background(), req, ec, failed,
		[]automation.Approach{automation.ApproachDOM},
		[]automation.Approach{automation.ApproachAssist})

	if rc.Explanation == "" {
		t.Error("context must carry a user-visible explanation")
	}
	if len(rc.Options) == 0 {
		t.Error("context must offer options")
	}
	if len(rc.Tried) != 1 {
		t.Errorf("tried chain not preserved: %v", rc.Tried)
	}
	if rc.Analysis != "" {
		t.Errorf("no LLM client means no analysis, got %q", rc.Analysis)
	}
}

func containsAction(actions []Action, want Action) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}
