package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"webpilot-mcp-server/internal/assist"
	"webpilot-mcp-server/internal/auth"
	"webpilot-mcp-server/internal/automation"
	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/dom"
	"webpilot-mcp-server/internal/facts"
	"webpilot-mcp-server/internal/orchestrator"
	"webpilot-mcp-server/internal/pattern"
	"webpilot-mcp-server/internal/recorder"
	"webpilot-mcp-server/internal/recovery"
	"webpilot-mcp-server/internal/retry"
	"webpilot-mcp-server/internal/vision"

	"github.com/rs/zerolog"
)

const testSchema = `
Decl execution(RequestID, Approach, ActionType, Success, Confidence).
Decl error_class(RequestID, Approach, Category).
Decl recovery_event(RequestID, RecoveryAction, Approach).
Decl routing(RequestID, Approach, TaskType).
`

// setupTestServer wires the full stack without touching a real browser.
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	log := zerolog.Nop()
	dir := t.TempDir()

	schemaPath := filepath.Join(dir, "automation.mg")
	if err := os.WriteFile(schemaPath, []byte(testSchema), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Facts.SchemaPath = schemaPath
	cfg.Orchestrator.PatternsPath = ""
	cfg.Auth.CredentialsPath = filepath.Join(dir, "credentials.enc")
	cfg.Auth.SessionsPath = filepath.Join(dir, "sessions.json")
	cfg.Auth.AuditLogPath = filepath.Join(dir, "audit.jsonl")

	manager := browser.NewManager(cfg.Browser, log)
	analyzer := dom.NewAnalyzer(log)
	domExec := dom.NewExecutor(manager, analyzer, log)

	patterns := pattern.NewCache("", log)
	synth := assist.NewSynthesizer(patterns, nil, &assist.StubRunner{}, 0, log)
	visual := vision.NewExecutor(nil, 0, 0, log)
	retries := retry.NewEngine(cfg.Retry, log)
	recoverMgr := recovery.NewManager(nil, log)

	engine, err := facts.NewEngine(cfg.Facts)
	if err != nil {
		t.Fatal(err)
	}
	trace, err := recorder.NewRecorder(filepath.Join(dir, "traces"))
	if err != nil {
		t.Fatal(err)
	}

	audit := auth.NewAuditLog(cfg.Auth.AuditLogPath)
	creds := auth.NewCredentialStore(cfg.Auth.CredentialsPath, audit, log)
	sessions := auth.NewSessionStore(cfg.Auth.SessionsPath, time.Hour, audit, log)

	orch := orchestrator.New(cfg.Orchestrator, domExec, synth, visual, retries, recoverMgr, patterns, engine, trace, log)
	return NewServer(cfg, orch, manager, engine, patterns, creds, sessions, log)
}

func TestNewServerRegistersTools(t *testing.T) {
	server := setupTestServer(t)

	if server.tools == nil || len(server.tools) == 0 {
		t.Fatal("expected registered tools")
	}

	for _, name := range []string{
		"automate", "automate-with-approach", "analytics", "clear-history",
		"set-interactive", "pattern-stats",
		"query-facts", "submit-rule",
		"browser-info", "shutdown-browser",
		"save-credential", "get-credential", "delete-credential", "list-credentials",
		"save-session", "delete-session", "cleanup-sessions",
	} {
		if _, ok := server.tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestExecuteToolUnknown(t *testing.T) {
	server := setupTestServer(t)
	if _, err := server.ExecuteTool("does-not-exist", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestAutomateRejectsIncompleteArgs(t *testing.T) {
	server := setupTestServer(t)

	if _, err := server.ExecuteTool("automate", map[string]interface{}{"task": "click"}); err == nil {
		t.Error("missing url must be rejected")
	}
	if _, err := server.ExecuteTool("automate", map[string]interface{}{"url": "https://example.com"}); err == nil {
		t.Error("missing task must be rejected")
	}
}

func TestAutomateWithApproachRejectsUnknownApproach(t *testing.T) {
	server := setupTestServer(t)

	_, err := server.ExecuteTool("automate-with-approach", map[string]interface{}{
		"url": "https://example.com", "task": "click", "approach": "telepathy",
	})
	if err == nil {
		t.Error("unknown approach must be rejected")
	}
}

func TestAutomateWithApproachSchemaRequiresApproach(t *testing.T) {
	server := setupTestServer(t)
	schema := server.tools["automate-with-approach"].InputSchema()

	required, ok := schema["required"].([]string)
	if !ok {
		t.Fatalf("required is %T", schema["required"])
	}
	found := false
	for _, r := range required {
		if r == "approach" {
			found = true
		}
	}
	if !found {
		t.Errorf("approach not required: %v", required)
	}
}

func TestAnalyticsAndClearHistoryTools(t *testing.T) {
	server := setupTestServer(t)

	result, err := server.ExecuteTool("analytics", map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	analytics, ok := result.(orchestrator.Analytics)
	if !ok {
		t.Fatalf("unexpected payload type %T", result)
	}
	if analytics.TotalExecutions != 0 {
		t.Errorf("fresh server has history: %d", analytics.TotalExecutions)
	}

	result, err = server.ExecuteTool("clear-history", map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]interface{})["cleared"] != 0 {
		t.Errorf("fresh server cleared records: %v", result)
	}
}

func TestSetInteractiveTool(t *testing.T) {
	server := setupTestServer(t)

	result, err := server.ExecuteTool("set-interactive", map[string]interface{}{"enabled": true})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]interface{})["interactive"] != true {
		t.Errorf("unexpected payload: %v", result)
	}

	result, err = server.ExecuteTool("set-interactive", map[string]interface{}{"enabled": false})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]interface{})["interactive"] != false {
		t.Errorf("unexpected payload: %v", result)
	}
}

func TestPatternStatsTool(t *testing.T) {
	server := setupTestServer(t)

	server.patterns.RecordOutcome("log in", "click", "login button", automation.ApproachDOM, true, 0.9)

	result, err := server.ExecuteTool("pattern-stats", map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	payload := result.(map[string]interface{})
	if payload["total"] != 1 {
		t.Errorf("expected 1 pattern, got %v", payload["total"])
	}
	entries := payload["patterns"].([]map[string]interface{})
	if entries[0]["task"] != "log in" || entries[0]["success_count"] != 1 {
		t.Errorf("unexpected pattern entry: %v", entries[0])
	}
}

func TestQueryFactsTool(t *testing.T) {
	server := setupTestServer(t)

	if _, err := server.ExecuteTool("query-facts", map[string]interface{}{}); err == nil {
		t.Error("missing query must be rejected")
	}

	server.engine.RecordExecution(context.Background(), "req-1", "dom_analysis", "click", true, 0.9)

	result, err := server.ExecuteTool("query-facts", map[string]interface{}{
		"query": "execution(Id, Approach, Action, Success, Confidence).",
	})
	if err != nil {
		t.Fatal(err)
	}
	payload := result.(map[string]interface{})
	if payload["count"] != 1 {
		t.Errorf("expected 1 result, got %v", payload["count"])
	}
}

func TestSubmitRuleTool(t *testing.T) {
	server := setupTestServer(t)

	result, err := server.ExecuteTool("submit-rule", map[string]interface{}{
		"rule": "Decl dom_execution(RequestID).\n\ndom_execution(Id) :- execution(Id, \"dom_analysis\", _, _, _).",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]interface{})["accepted"] != true {
		t.Errorf("unexpected payload: %v", result)
	}

	if _, err := server.ExecuteTool("submit-rule", map[string]interface{}{"rule": "not mangle ("}); err == nil {
		t.Error("garbage rule must be rejected")
	}
}

func TestBrowserToolsWithoutBrowser(t *testing.T) {
	server := setupTestServer(t)

	result, err := server.ExecuteTool("browser-info", map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	info, ok := result.(browser.Info)
	if !ok {
		t.Fatalf("unexpected payload type %T", result)
	}
	if info.Connected {
		t.Error("no browser should be connected in tests")
	}

	result, err = server.ExecuteTool("shutdown-browser", map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	payload := result.(map[string]interface{})
	if payload["shutdown"] != false {
		t.Errorf("shutdown without a browser should be a no-op: %v", payload)
	}
}

func TestCredentialToolsLockedStore(t *testing.T) {
	t.Setenv(auth.EnvCredentialsKey, "")
	server := setupTestServer(t)

	_, err := server.ExecuteTool("save-credential", map[string]interface{}{
		"domain": "example.com", "username": "alice", "password": "pw",
	})
	if err == nil || !strings.Contains(err.Error(), auth.EnvCredentialsKey) {
		t.Errorf("locked store error should mention the key variable: %v", err)
	}
}

func TestCredentialToolsRoundTrip(t *testing.T) {
	t.Setenv(auth.EnvCredentialsKey, "test-passphrase")
	server := setupTestServer(t)

	if _, err := server.ExecuteTool("save-credential", map[string]interface{}{
		"domain": "example.com", "username": "alice", "password": "pw",
	}); err != nil {
		t.Fatal(err)
	}

	result, err := server.ExecuteTool("list-credentials", map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	payload := result.(map[string]interface{})
	if payload["count"] != 1 {
		t.Errorf("expected 1 domain, got %v", payload["count"])
	}
	// Secrets never leave the store.
	if _, exposed := payload["password"]; exposed {
		t.Error("list-credentials must not return passwords")
	}

	result, err = server.ExecuteTool("delete-credential", map[string]interface{}{"domain": "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]interface{})["deleted"] != true {
		t.Errorf("unexpected payload: %v", result)
	}

	result, err = server.ExecuteTool("delete-credential", map[string]interface{}{"domain": "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]interface{})["deleted"] != false {
		t.Errorf("second delete should report not found: %v", result)
	}
}

func TestGetCredentialTool(t *testing.T) {
	t.Setenv(auth.EnvCredentialsKey, "test-passphrase")
	server := setupTestServer(t)

	if _, err := server.ExecuteTool("get-credential", map[string]interface{}{"domain": "example.com"}); err == nil {
		t.Error("missing credential must error")
	}

	if _, err := server.ExecuteTool("save-credential", map[string]interface{}{
		"domain": "example.com", "username": "alice", "password": "pw",
	}); err != nil {
		t.Fatal(err)
	}

	// Full URLs normalize to the stored domain.
	result, err := server.ExecuteTool("get-credential", map[string]interface{}{"domain": "https://www.example.com/login"})
	if err != nil {
		t.Fatal(err)
	}
	payload := result.(map[string]interface{})
	if payload["username"] != "alice" || payload["password"] != "pw" {
		t.Errorf("stored credential not returned: %v", payload)
	}
	if payload["domain"] != "example.com" {
		t.Errorf("domain not normalized: %v", payload["domain"])
	}
}

func TestSaveSessionToolWithoutPage(t *testing.T) {
	server := setupTestServer(t)

	if _, err := server.ExecuteTool("save-session", map[string]interface{}{}); err == nil {
		t.Error("missing domain must be rejected")
	}
	_, err := server.ExecuteTool("save-session", map[string]interface{}{"domain": "example.com"})
	if err == nil || !strings.Contains(err.Error(), "no open page") {
		t.Errorf("save-session without an open page should say so: %v", err)
	}
}

func TestSessionTools(t *testing.T) {
	server := setupTestServer(t)

	result, err := server.ExecuteTool("delete-session", map[string]interface{}{"domain": "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]interface{})["deleted"] != false {
		t.Errorf("missing session should report not found: %v", result)
	}

	result, err = server.ExecuteTool("cleanup-sessions", map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]interface{})["removed"] != 0 {
		t.Errorf("empty store cleanup: %v", result)
	}
}
