package assist

import "webpilot-mcp-server/internal/llm"

// Availability is the three-state probe result for the AI-Assist path.
type Availability string

const (
	// Available means a runner is wired and an LLM provider is configured.
	Available Availability = "available"
	// NotInstalled means no runner backend is wired in this deployment.
	NotInstalled Availability = "not_installed"
	// NotConfigured means the runner exists but the LLM provider has no
	// API key.
	NotConfigured Availability = "not_configured"
)

// Probe reports whether the synthesizer can execute at all.
func (s *Synthesizer) Probe() Availability {
	if s.runner == nil {
		return NotInstalled
	}
	if s.client == nil && !llm.Configured() {
		return NotConfigured
	}
	return Available
}
