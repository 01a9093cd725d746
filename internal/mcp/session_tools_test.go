package mcp

import (
	"context"
	"testing"

	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/engine"
)

func TestGetPageStateWithoutBrowser(t *testing.T) {
	cfg := config.DefaultConfig()
	sessions := browser.NewSessionManager(cfg.Browser, nil)
	dispatcher, err := engine.NewDispatcher(cfg, sessions, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	tool := &GetPageStateTool{sessions: sessions, dispatcher: dispatcher}

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := result.(map[string]interface{})
	if out["connected"] != false {
		t.Errorf("connected = %v, want false", out["connected"])
	}
	if out["dispatcher_state"] != string(engine.StateIdle) {
		t.Errorf("dispatcher_state = %v, want %s", out["dispatcher_state"], engine.StateIdle)
	}
	if out["refs_total"].(int) != 0 {
		t.Errorf("refs_total = %v, want 0", out["refs_total"])
	}
}

func TestShutdownWithoutBrowserIsNoop(t *testing.T) {
	cfg := config.DefaultConfig()
	sessions := browser.NewSessionManager(cfg.Browser, nil)
	tool := &ShutdownBrowserTool{sessions: sessions}

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := result.(map[string]interface{})
	if out["status"] != "stopped" {
		t.Errorf("status = %v, want stopped", out["status"])
	}
}
