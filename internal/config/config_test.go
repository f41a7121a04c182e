package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Name != "webpilot-mcp" {
		t.Errorf("expected server name 'webpilot-mcp', got %q", cfg.Server.Name)
	}
	if cfg.Server.Version != "0.1.0" {
		t.Errorf("expected server version '0.1.0', got %q", cfg.Server.Version)
	}
	if cfg.Server.TraceDir != "data/traces" {
		t.Errorf("expected trace dir 'data/traces', got %q", cfg.Server.TraceDir)
	}

	// Browser defaults
	if cfg.Browser.DefaultNavigationTimeout != "15s" {
		t.Errorf("expected navigation timeout '15s', got %q", cfg.Browser.DefaultNavigationTimeout)
	}
	if cfg.Browser.ViewportWidth != 1920 {
		t.Errorf("expected viewport width 1920, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Browser.ViewportHeight != 1080 {
		t.Errorf("expected viewport height 1080, got %d", cfg.Browser.ViewportHeight)
	}

	// Orchestrator defaults
	if cfg.Orchestrator.DOMConfidenceThreshold != 0.7 {
		t.Errorf("expected DOM threshold 0.7, got %f", cfg.Orchestrator.DOMConfidenceThreshold)
	}
	if cfg.Orchestrator.MaxRetriesPerApproach != 3 {
		t.Errorf("expected 3 retries per approach, got %d", cfg.Orchestrator.MaxRetriesPerApproach)
	}
	if cfg.Orchestrator.PatternsPath != "data/patterns.json" {
		t.Errorf("expected patterns path 'data/patterns.json', got %q", cfg.Orchestrator.PatternsPath)
	}
	if !cfg.Orchestrator.DOMEnabled() || !cfg.Orchestrator.AIAssistEnabled() || !cfg.Orchestrator.VisionEnabled() {
		t.Error("expected all approaches enabled by default")
	}

	// Facts defaults
	if !cfg.Facts.Enable {
		t.Error("expected Facts.Enable to be true")
	}
	if cfg.Facts.SchemaPath != "schemas/automation.mg" {
		t.Errorf("expected schema path 'schemas/automation.mg', got %q", cfg.Facts.SchemaPath)
	}
	if cfg.Facts.FactBufferLimit != 2048 {
		t.Errorf("expected fact buffer limit 2048, got %d", cfg.Facts.FactBufferLimit)
	}

	// Auth defaults
	if cfg.Auth.CredentialsPath != "data/credentials.enc" {
		t.Errorf("expected credentials path 'data/credentials.enc', got %q", cfg.Auth.CredentialsPath)
	}
	if cfg.Auth.GetSessionTTL() != 30*time.Minute {
		t.Errorf("expected session TTL 30m, got %v", cfg.Auth.GetSessionTTL())
	}

	if cfg.MCP.SSEPort != 0 {
		t.Errorf("expected stdio-only by default, got SSE port %d", cfg.MCP.SSEPort)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Error("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  name: "test-server"
  version: "1.0.0"
  log_file: "test.log"

browser:
  debugger_url: "ws://localhost:9222"
  headless: true
  default_navigation_timeout: "20s"
  viewport_width: 1280
  viewport_height: 720

orchestrator:
  preferred_approach: "vision"
  dom_confidence_threshold: 0.8
  interactive: true

vision:
  command: ["browser-agent", "--json"]
  max_steps: 10

facts:
  enable: true
  schema_path: "test-schema.mg"
  fact_buffer_limit: 5000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Name != "test-server" {
		t.Errorf("expected server name 'test-server', got %q", cfg.Server.Name)
	}
	if cfg.Browser.DebuggerURL != "ws://localhost:9222" {
		t.Errorf("expected debugger URL 'ws://localhost:9222', got %q", cfg.Browser.DebuggerURL)
	}
	if cfg.Browser.ViewportWidth != 1280 {
		t.Errorf("expected viewport width 1280, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Orchestrator.PreferredApproach != "vision" {
		t.Errorf("expected preferred approach 'vision', got %q", cfg.Orchestrator.PreferredApproach)
	}
	if cfg.Orchestrator.DOMConfidenceThreshold != 0.8 {
		t.Errorf("expected DOM threshold 0.8, got %f", cfg.Orchestrator.DOMConfidenceThreshold)
	}
	if !cfg.Orchestrator.Interactive {
		t.Error("expected interactive mode on")
	}
	if len(cfg.Vision.Command) != 2 || cfg.Vision.Command[0] != "browser-agent" {
		t.Errorf("expected vision command, got %v", cfg.Vision.Command)
	}
	if cfg.Facts.FactBufferLimit != 5000 {
		t.Errorf("expected fact buffer limit 5000, got %d", cfg.Facts.FactBufferLimit)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{Server: ServerConfig{Name: "test"}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"minimal valid", func(c *Config) {}, false},
		{"empty server name", func(c *Config) { c.Server.Name = "" }, true},
		{"threshold above one", func(c *Config) { c.Orchestrator.DOMConfidenceThreshold = 1.5 }, true},
		{"threshold below zero", func(c *Config) { c.Orchestrator.AIConfidenceThreshold = -0.1 }, true},
		{"known preferred approach", func(c *Config) { c.Orchestrator.PreferredApproach = "ai_assist" }, false},
		{"unknown preferred approach", func(c *Config) { c.Orchestrator.PreferredApproach = "magic" }, true},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error but got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNavigationTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  string
		expected time.Duration
	}{
		{"empty string", "", 15 * time.Second},
		{"valid duration", "20s", 20 * time.Second},
		{"invalid duration", "invalid", 15 * time.Second},
		{"milliseconds", "500ms", 500 * time.Millisecond},
		{"minutes", "2m", 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{DefaultNavigationTimeout: tt.timeout}
			if result := cfg.NavigationTimeout(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestIsHeadless(t *testing.T) {
	t.Run("nil headless defaults to true", func(t *testing.T) {
		cfg := BrowserConfig{Headless: nil}
		if !cfg.IsHeadless() {
			t.Error("expected true when Headless is nil")
		}
	})

	t.Run("explicit false", func(t *testing.T) {
		val := false
		cfg := BrowserConfig{Headless: &val}
		if cfg.IsHeadless() {
			t.Error("expected false when Headless is false")
		}
	})
}

func TestGetViewportDimensions(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"zero defaults", 0, 0, 1920, 1080},
		{"negative defaults", -100, -50, 1920, 1080},
		{"custom", 1280, 720, 1280, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{ViewportWidth: tt.width, ViewportHeight: tt.height}
			if got := cfg.GetViewportWidth(); got != tt.wantW {
				t.Errorf("width: expected %d, got %d", tt.wantW, got)
			}
			if got := cfg.GetViewportHeight(); got != tt.wantH {
				t.Errorf("height: expected %d, got %d", tt.wantH, got)
			}
		})
	}
}

func TestRetryDurations(t *testing.T) {
	r := RetryConfig{}
	if r.GetBaseDelay() != time.Second {
		t.Errorf("base delay default = %v", r.GetBaseDelay())
	}
	if r.GetMaxDelay() != 60*time.Second {
		t.Errorf("max delay default = %v", r.GetMaxDelay())
	}
	if r.GetTimeout() != 120*time.Second {
		t.Errorf("timeout default = %v", r.GetTimeout())
	}
	if !r.IsExponential() || !r.HasJitter() {
		t.Error("exponential backoff and jitter default to on")
	}

	r = RetryConfig{BaseDelay: "250ms", MaxDelay: "5s", Timeout: "30s"}
	if r.GetBaseDelay() != 250*time.Millisecond || r.GetMaxDelay() != 5*time.Second || r.GetTimeout() != 30*time.Second {
		t.Errorf("parsed durations wrong: %v %v %v", r.GetBaseDelay(), r.GetMaxDelay(), r.GetTimeout())
	}
}

func TestVisionDefaults(t *testing.T) {
	v := VisionConfig{}
	if v.GetMaxSteps() != 20 {
		t.Errorf("max steps default = %d", v.GetMaxSteps())
	}
	if v.GetTimeout() != 180*time.Second {
		t.Errorf("timeout default = %v", v.GetTimeout())
	}
	v = VisionConfig{MaxSteps: 7, Timeout: "90s"}
	if v.GetMaxSteps() != 7 || v.GetTimeout() != 90*time.Second {
		t.Errorf("parsed vision config wrong: %d %v", v.GetMaxSteps(), v.GetTimeout())
	}
}

func TestOrchestratorTotalTimeout(t *testing.T) {
	o := OrchestratorConfig{}
	if o.GetTotalTimeout() != 300*time.Second {
		t.Errorf("total timeout default = %v", o.GetTotalTimeout())
	}
	o = OrchestratorConfig{TotalTimeout: "45s"}
	if o.GetTotalTimeout() != 45*time.Second {
		t.Errorf("parsed total timeout = %v", o.GetTotalTimeout())
	}
}

func TestApproachToggles(t *testing.T) {
	off := false
	o := OrchestratorConfig{EnableVision: &off}
	if o.VisionEnabled() {
		t.Error("explicit false must disable vision")
	}
	if !o.DOMEnabled() || !o.AIAssistEnabled() {
		t.Error("unset toggles default to enabled")
	}
}
