package mcp

import (
	"context"

	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/engine"
)

// LaunchBrowserTool starts the managed Chrome instance ahead of time. The
// browser tool also connects lazily on first use; launching explicitly lets
// the agent surface startup problems before its first action.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Start a Chrome browser instance for automation.

WHAT IT DOES:
- Launches Chrome with DevTools Protocol enabled
- Applies the configured viewport and headless settings
- Returns control URL for debugging

WHEN TO USE:
- Starting a new automation session
- After shutdown-browser to restart
- Idempotent: safe to call if already running

Optional: the browser tool connects automatically on first use.

Returns: {status: "started"|"already_connected", control_url, session}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.sessions.ControlURL(),
			"session":     t.sessions.Session(),
		}, nil
	}

	if err := t.sessions.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.sessions.ControlURL(),
		"session":     t.sessions.Session(),
	}, nil
}

// ShutdownBrowserTool stops the managed Chrome instance.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop the Chrome browser and release its resources.

WHEN TO USE:
- End of automation to release resources
- Before restarting with different settings

WHAT IT DOES:
- Closes the controlled page and terminates Chrome
- Invalidates all element refs

NOTE: the telemetry fact buffer persists after shutdown.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "stopped",
	}, nil
}

// GetPageStateTool reports session and dispatcher status without touching
// the page.
type GetPageStateTool struct {
	sessions   *browser.SessionManager
	dispatcher *engine.Dispatcher
}

func (t *GetPageStateTool) Name() string { return "get-page-state" }
func (t *GetPageStateTool) Description() string {
	return `Report the current browser and dispatcher state.

Returns connection status, session metadata (URL, title), the dispatcher's
state machine position, the current snapshot epoch, and ref counts. Cheap:
never touches the live page.`
}
func (t *GetPageStateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetPageStateTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	reg := t.sessions.Registry()
	return map[string]interface{}{
		"connected":        t.sessions.IsConnected(),
		"session":          t.sessions.Session(),
		"dispatcher_state": string(t.dispatcher.State()),
		"snapshot_epoch":   reg.Epoch(),
		"refs_total":       reg.Count(),
		"refs_live":        reg.LiveCount(),
	}, nil
}
