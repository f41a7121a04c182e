package dom

import (
	"path/filepath"
	"testing"
	"time"

	"webpilot-mcp-server/internal/auth"
	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"

	"github.com/rs/zerolog"
)

// Restoration is best effort: with no store wired, or no session for the
// domain, page preparation proceeds without touching the page at all.
func TestRestoreSessionBestEffort(t *testing.T) {
	log := zerolog.Nop()
	e := NewExecutor(browser.NewManager(config.BrowserConfig{}, log), NewAnalyzer(log), log)

	// No store wired.
	e.restoreSession(nil, "https://example.com/login")

	store := auth.NewSessionStore(filepath.Join(t.TempDir(), "sessions.json"), time.Hour, nil, log)
	e.SetSessionStore(store)

	// Store wired but no session for the domain: the miss resolves before
	// any cookie is installed, so the nil page is never dereferenced.
	e.restoreSession(nil, "https://missing.example.com/login")
}
