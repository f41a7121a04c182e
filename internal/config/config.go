package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level WebPilot config.
	WorkspaceDirName = ".webpilot"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the WebPilot MCP server.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Browser      BrowserConfig      `yaml:"browser"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Retry        RetryConfig        `yaml:"retry"`
	Vision       VisionConfig       `yaml:"vision"`
	Auth         AuthConfig         `yaml:"auth"`
	Facts        FactsConfig        `yaml:"facts"`
	MCP          MCPConfig          `yaml:"mcp"`
}

type ServerConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogFile  string `yaml:"log_file"`
	TraceDir string `yaml:"trace_dir"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). When empty a browser is launched.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// UserAgent overrides the browser user agent for new contexts.
	UserAgent string `yaml:"user_agent"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Viewport width for new contexts (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new contexts (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

// OrchestratorConfig selects and tunes the automation approaches.
type OrchestratorConfig struct {
	// PreferredApproach forces routing when set: dom_analysis | ai_assist | vision.
	PreferredApproach string `yaml:"preferred_approach"`
	EnableDOMAnalysis *bool  `yaml:"enable_dom_analysis"`
	EnableAIAssist    *bool  `yaml:"enable_ai_assist"`
	EnableVision      *bool  `yaml:"enable_vision"`
	// MaxRetriesPerApproach bounds retry attempts inside a single approach.
	MaxRetriesPerApproach int `yaml:"max_retries_per_approach"`
	// TotalTimeout bounds one request end to end (e.g., "300s").
	TotalTimeout string `yaml:"total_timeout"`
	ShowBrowser  bool   `yaml:"show_browser"`
	// Interactive enables the recovery prompt loop on failure.
	Interactive bool `yaml:"interactive"`
	// PatternsPath is where the learned pattern cache persists.
	PatternsPath string `yaml:"patterns_path"`

	DOMConfidenceThreshold    float64 `yaml:"dom_confidence_threshold"`
	AIConfidenceThreshold     float64 `yaml:"ai_confidence_threshold"`
	VisionConfidenceThreshold float64 `yaml:"vision_confidence_threshold"`
}

// RetryConfig tunes the category-aware retry engine.
type RetryConfig struct {
	MaxRetries  int    `yaml:"max_retries"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
	Exponential *bool  `yaml:"exponential"`
	Jitter      *bool  `yaml:"jitter"`
	// Timeout wraps each individual attempt (e.g., "120s").
	Timeout string `yaml:"timeout"`
}

// VisionConfig configures the external autonomous visual agent.
type VisionConfig struct {
	// Command to invoke the agent binary; empty means not configured.
	Command []string `yaml:"command"`
	// MaxSteps bounds how many browse steps the agent may take (default: 20).
	MaxSteps int `yaml:"max_steps"`
	// Timeout for a full agent run (e.g., "180s").
	Timeout string `yaml:"timeout"`
}

// AuthConfig points at the durable credential and session stores.
type AuthConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	SessionsPath    string `yaml:"sessions_path"`
	AuditLogPath    string `yaml:"audit_log_path"`
	// SessionTTL for stored cookies (default: "30m").
	SessionTTL string `yaml:"session_ttl"`
}

// FactsConfig controls the embedded deductive telemetry engine.
type FactsConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "webpilot-mcp",
			Version:  "0.1.0",
			LogFile:  "webpilot-mcp.log",
			TraceDir: "data/traces",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "15s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Orchestrator: OrchestratorConfig{
			MaxRetriesPerApproach:     3,
			TotalTimeout:              "300s",
			PatternsPath:              "data/patterns.json",
			DOMConfidenceThreshold:    0.7,
			AIConfidenceThreshold:     0.6,
			VisionConfidenceThreshold: 0.5,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  "1s",
			MaxDelay:   "60s",
			Timeout:    "120s",
		},
		Vision: VisionConfig{
			MaxSteps: 20,
			Timeout:  "180s",
		},
		Auth: AuthConfig{
			CredentialsPath: "data/credentials.enc",
			SessionsPath:    "data/sessions.json",
			AuditLogPath:    "data/auth-audit.jsonl",
			SessionTTL:      "30m",
		},
		Facts: FactsConfig{
			Enable:          true,
			SchemaPath:      "schemas/automation.mg",
			FactBufferLimit: 2048,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .webpilot/config.yaml file.
// Returns the workspace root directory (parent of .webpilot/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .webpilot/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			// Verify the explicit workspace dir has a config
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .webpilot/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# WebPilot project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# orchestrator:
#   preferred_approach: dom_analysis
#   dom_confidence_threshold: 0.7
#   interactive: true
#   patterns_path: ".webpilot/data/patterns.json"

# facts:
#   schema_path: ".webpilot/schemas/project.mg"

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0o644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, sessions, patterns) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Server.TraceDir = resolve(cfg.Server.TraceDir)
	cfg.Facts.SchemaPath = resolve(cfg.Facts.SchemaPath)
	cfg.Orchestrator.PatternsPath = resolve(cfg.Orchestrator.PatternsPath)
	cfg.Auth.CredentialsPath = resolve(cfg.Auth.CredentialsPath)
	cfg.Auth.SessionsPath = resolve(cfg.Auth.SessionsPath)
	cfg.Auth.AuditLogPath = resolve(cfg.Auth.AuditLogPath)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	for name, v := range map[string]float64{
		"orchestrator.dom_confidence_threshold":    c.Orchestrator.DOMConfidenceThreshold,
		"orchestrator.ai_confidence_threshold":     c.Orchestrator.AIConfidenceThreshold,
		"orchestrator.vision_confidence_threshold": c.Orchestrator.VisionConfidenceThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1]", name)
		}
	}
	if c.Orchestrator.PreferredApproach != "" {
		switch c.Orchestrator.PreferredApproach {
		case "dom_analysis", "ai_assist", "vision":
		default:
			return fmt.Errorf("orchestrator.preferred_approach: unknown approach %q", c.Orchestrator.PreferredApproach)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	return nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDurationOr(b.DefaultNavigationTimeout, 15*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true // default to headless
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// GetTotalTimeout returns the per-request deadline (default: 300s).
func (o OrchestratorConfig) GetTotalTimeout() time.Duration {
	return parseDurationOr(o.TotalTimeout, 300*time.Second)
}

// DOMEnabled reports whether the DOM approach may be routed to (default: true).
func (o OrchestratorConfig) DOMEnabled() bool {
	return o.EnableDOMAnalysis == nil || *o.EnableDOMAnalysis
}

// AIAssistEnabled reports whether the AI-assist approach may be routed to (default: true).
func (o OrchestratorConfig) AIAssistEnabled() bool {
	return o.EnableAIAssist == nil || *o.EnableAIAssist
}

// VisionEnabled reports whether the vision approach may be routed to (default: true).
func (o OrchestratorConfig) VisionEnabled() bool {
	return o.EnableVision == nil || *o.EnableVision
}

// GetBaseDelay returns the parsed base retry delay (default: 1s).
func (r RetryConfig) GetBaseDelay() time.Duration {
	return parseDurationOr(r.BaseDelay, time.Second)
}

// GetMaxDelay returns the parsed delay cap (default: 60s).
func (r RetryConfig) GetMaxDelay() time.Duration {
	return parseDurationOr(r.MaxDelay, 60*time.Second)
}

// GetTimeout returns the per-attempt deadline (default: 120s).
func (r RetryConfig) GetTimeout() time.Duration {
	return parseDurationOr(r.Timeout, 120*time.Second)
}

// IsExponential reports whether backoff doubles per attempt (default: true).
func (r RetryConfig) IsExponential() bool {
	return r.Exponential == nil || *r.Exponential
}

// HasJitter reports whether delays carry +-10% jitter (default: true).
func (r RetryConfig) HasJitter() bool {
	return r.Jitter == nil || *r.Jitter
}

// GetMaxSteps returns the vision agent step budget (default: 20).
func (v VisionConfig) GetMaxSteps() int {
	if v.MaxSteps <= 0 {
		return 20
	}
	return v.MaxSteps
}

// GetTimeout returns the vision agent run deadline (default: 180s).
func (v VisionConfig) GetTimeout() time.Duration {
	return parseDurationOr(v.Timeout, 180*time.Second)
}

// GetSessionTTL returns the stored-cookie lifetime (default: 30m).
func (a AuthConfig) GetSessionTTL() time.Duration {
	return parseDurationOr(a.SessionTTL, 30*time.Minute)
}
