package mcp

import (
	"context"

	"webpilot-mcp-server/internal/browser"
)

// BrowserInfoTool reports the managed browser's state.
type BrowserInfoTool struct {
	manager *browser.Manager
}

func (t *BrowserInfoTool) Name() string { return "browser-info" }
func (t *BrowserInfoTool) Description() string {
	return `Report the managed browser state: connectivity, headless mode, open contexts, and tracked pages.`
}
func (t *BrowserInfoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *BrowserInfoTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.manager.Info(), nil
}

// ShutdownBrowserTool tears down the browser process and all contexts.
type ShutdownBrowserTool struct {
	manager *browser.Manager
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Shut down the managed browser.

WHEN TO USE:
- The browser is wedged and a fresh launch is preferable to further recovery
- Freeing resources after a long automation session

WHAT IT DOES:
- Closes every tracked page and context and terminates the browser process
- The next automation request relaunches the browser automatically`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *ShutdownBrowserTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if !t.manager.IsConnected() {
		return map[string]interface{}{"shutdown": false, "reason": "browser not running"}, nil
	}
	if err := t.manager.Close(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"shutdown": true}, nil
}
