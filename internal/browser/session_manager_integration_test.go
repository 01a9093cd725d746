package browser

import (
	"context"
	"os"
	"testing"
	"time"

	"webpilot-mcp-server/internal/config"
)

func integrationBoolPtr(b bool) *bool { return &b }

// TestIntegrationSessionLifecycle drives a real browser.
// Set SKIP_LIVE_TESTS="" to run with a live Chrome.
func TestIntegrationSessionLifecycle(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping integration tests (SKIP_LIVE_TESTS set)")
	}

	cfg := config.BrowserConfig{
		Headless:       integrationBoolPtr(true),
		ViewportWidth:  1280,
		ViewportHeight: 800,
	}

	manager := NewSessionManager(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Requires a Chrome binary; skip the whole test when unavailable.
	if err := manager.Start(ctx); err != nil {
		t.Skipf("Browser start failed (Chrome not available): %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	if !manager.IsConnected() {
		t.Fatal("expected IsConnected after Start")
	}
	if manager.ControlURL() == "" {
		t.Fatal("expected non-empty control URL after Start")
	}

	meta := manager.Session()
	if meta.ID == "" {
		t.Error("expected non-empty session ID")
	}
	if meta.Status != "active" {
		t.Errorf("expected status 'active', got %q", meta.Status)
	}

	t.Run("NavigateDataURL", func(t *testing.T) {
		if err := manager.Navigate(ctx, "data:text/html,<title>First</title><h1>one</h1>"); err != nil {
			t.Fatalf("Navigate failed: %v", err)
		}
		if got := manager.Session().Title; got != "First" {
			t.Errorf("title = %q, want First", got)
		}
	})

	t.Run("NavigationInvalidatesRefs", func(t *testing.T) {
		reg := manager.Registry()
		reg.BeginSnapshot()
		id := reg.Observe(Locator{Tag: "h1", Text: "one", Path: "html>body"})
		reg.EndSnapshot()

		if err := manager.Navigate(ctx, "data:text/html,<title>Second</title><h1>two</h1>"); err != nil {
			t.Fatalf("Navigate failed: %v", err)
		}
		if _, err := reg.Resolve(id); err == nil {
			t.Error("ref should be stale after navigation")
		}
	})

	t.Run("HistoryBackForward", func(t *testing.T) {
		if err := manager.Navigate(ctx, "back"); err != nil {
			t.Fatalf("back failed: %v", err)
		}
		if got := manager.Session().Title; got != "First" {
			t.Errorf("after back, title = %q, want First", got)
		}
		if err := manager.Navigate(ctx, "forward"); err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if got := manager.Session().Title; got != "Second" {
			t.Errorf("after forward, title = %q, want Second", got)
		}
	})

	t.Run("EnsureSessionHealthy", func(t *testing.T) {
		page, err := manager.EnsureSession(ctx)
		if err != nil {
			t.Fatalf("EnsureSession failed: %v", err)
		}
		if page == nil {
			t.Fatal("expected a live page")
		}
	})
}
