package mcp

import (
	"context"
	"testing"

	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/engine"
)

func newBrowserTool(t *testing.T) *BrowserTool {
	t.Helper()
	cfg := config.DefaultConfig()
	sessions := browser.NewSessionManager(cfg.Browser, nil)
	dispatcher, err := engine.NewDispatcher(cfg, sessions, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return &BrowserTool{dispatcher: dispatcher}
}

func TestBrowserToolSchemaCoversAllActions(t *testing.T) {
	tool := newBrowserTool(t)
	schema := tool.InputSchema()

	props := schema["properties"].(map[string]interface{})
	action := props["action"].(map[string]interface{})
	enum := action["enum"].([]string)

	kinds := engine.Kinds()
	if len(enum) != len(kinds) {
		t.Fatalf("schema enum has %d actions, engine has %d", len(enum), len(kinds))
	}
	known := make(map[string]bool, len(enum))
	for _, name := range enum {
		known[name] = true
	}
	for _, k := range kinds {
		if !known[k] {
			t.Errorf("action %s missing from schema enum", k)
		}
	}
}

func TestBrowserToolReportsValidationFailure(t *testing.T) {
	tool := newBrowserTool(t)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"action": "navigate",
	})
	if err != nil {
		t.Fatalf("Execute returned transport error: %v", err)
	}

	out := result.(map[string]interface{})
	if out["success"] != false {
		t.Fatalf("success = %v, want false", out["success"])
	}
	errInfo, ok := out["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("no error payload in %v", out)
	}
	if errInfo["kind"] != string(engine.ErrValidation) {
		t.Errorf("error kind = %v, want %s", errInfo["kind"], engine.ErrValidation)
	}
}

func TestBrowserToolWait(t *testing.T) {
	tool := newBrowserTool(t)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"action":   "wait",
		"duration": float64(0),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	out := result.(map[string]interface{})
	if out["success"] != true {
		t.Fatalf("wait failed: %v", out)
	}
	if out["state"] != string(engine.StateDone) {
		t.Errorf("state = %v, want %s", out["state"], engine.StateDone)
	}
	if _, present := out["screenshot"]; present {
		t.Error("wait should not return a screenshot")
	}
}

func TestCancelWaitTool(t *testing.T) {
	browserTool := newBrowserTool(t)
	cancelTool := &CancelWaitTool{dispatcher: browserTool.dispatcher}

	result, err := cancelTool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := result.(map[string]interface{})
	if out["success"] != true {
		t.Fatalf("cancel-wait result = %v", out)
	}
}
