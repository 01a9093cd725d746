package main

import (
	"os"
	"testing"

	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/engine"
	"webpilot-mcp-server/internal/facts"
	"webpilot-mcp-server/internal/mcp"
)

// TestIntegrationServerLifecycle wires the full stack the way main() does
// and exercises it against a live browser.
func TestIntegrationServerLifecycle(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping integration tests (SKIP_LIVE_TESTS set)")
	}

	cfg := config.DefaultConfig()
	cfg.Server.Name = "integration-test-server"
	headless := true
	cfg.Browser.Headless = &headless
	cfg.Browser.StabilizationDelay = "50ms"
	cfg.Facts.Enable = true
	cfg.Facts.FactBufferLimit = 1000

	store, err := facts.NewStore(cfg.Facts)
	if err != nil {
		t.Fatalf("fact store: %v", err)
	}
	sessions := browser.NewSessionManager(cfg.Browser, store)
	dispatcher, err := engine.NewDispatcher(cfg, sessions, store)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	server, err := mcp.NewServer(cfg, sessions, dispatcher, store)
	if err != nil {
		t.Fatalf("server: %v", err)
	}

	launch, err := server.ExecuteTool("launch-browser", map[string]interface{}{})
	if err != nil {
		t.Skipf("no browser available: %v", err)
	}
	t.Cleanup(func() {
		_, _ = server.ExecuteTool("shutdown-browser", map[string]interface{}{})
	})
	if launch.(map[string]interface{})["status"] != "started" {
		t.Fatalf("launch result = %v", launch)
	}

	result, err := server.ExecuteTool("browser", map[string]interface{}{
		"action": "navigate",
		"text":   "data:text/html,<html><head><title>Lifecycle</title></head><body><h1>up</h1></body></html>",
	})
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	out := result.(map[string]interface{})
	if out["success"] != true {
		t.Fatalf("navigate result = %v", out)
	}
	if _, present := out["screenshot"]; !present {
		t.Error("navigate should return a screenshot")
	}

	state, err := server.ExecuteTool("get-page-state", map[string]interface{}{})
	if err != nil {
		t.Fatalf("get-page-state: %v", err)
	}
	if state.(map[string]interface{})["connected"] != true {
		t.Fatalf("state = %v", state)
	}

	factsOut, err := server.ExecuteTool("read-facts", map[string]interface{}{
		"predicate": "action_event",
	})
	if err != nil {
		t.Fatalf("read-facts: %v", err)
	}
	if factsOut.(map[string]interface{})["count"].(int) == 0 {
		t.Error("expected action_event facts after navigation")
	}
}
