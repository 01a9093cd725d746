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
	if cfg.Server.LogFile != "webpilot-mcp.log" {
		t.Errorf("expected log file 'webpilot-mcp.log', got %q", cfg.Server.LogFile)
	}

	// Browser defaults
	if cfg.Browser.DefaultNavigationTimeout != "30s" {
		t.Errorf("expected navigation timeout '30s', got %q", cfg.Browser.DefaultNavigationTimeout)
	}
	if cfg.Browser.DefaultActionTimeout != "10s" {
		t.Errorf("expected action timeout '10s', got %q", cfg.Browser.DefaultActionTimeout)
	}
	if cfg.Browser.StabilizationDelay != "500ms" {
		t.Errorf("expected stabilization delay '500ms', got %q", cfg.Browser.StabilizationDelay)
	}
	if cfg.Browser.ViewportWidth != 1920 {
		t.Errorf("expected viewport width 1920, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Browser.ViewportHeight != 1080 {
		t.Errorf("expected viewport height 1080, got %d", cfg.Browser.ViewportHeight)
	}

	// Engine defaults
	if cfg.Engine.AgentWidth != 1456 {
		t.Errorf("expected agent width 1456, got %d", cfg.Engine.AgentWidth)
	}
	if cfg.Engine.AgentHeight != 819 {
		t.Errorf("expected agent height 819, got %d", cfg.Engine.AgentHeight)
	}
	if cfg.Engine.MaxSnapshotNodes != 2000 {
		t.Errorf("expected max snapshot nodes 2000, got %d", cfg.Engine.MaxSnapshotNodes)
	}
	if cfg.Engine.MaxSnapshotDepth != 40 {
		t.Errorf("expected max snapshot depth 40, got %d", cfg.Engine.MaxSnapshotDepth)
	}

	// Facts defaults
	if !cfg.Facts.Enable {
		t.Error("expected Facts.Enable to be true")
	}
	if cfg.Facts.FactBufferLimit != 2048 {
		t.Errorf("expected fact buffer limit 2048, got %d", cfg.Facts.FactBufferLimit)
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
  default_action_timeout: "5s"
  viewport_width: 1280
  viewport_height: 720

engine:
  agent_width: 1024
  agent_height: 640
  max_snapshot_nodes: 500

facts:
  enable: true
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
	if cfg.Engine.AgentWidth != 1024 {
		t.Errorf("expected agent width 1024, got %d", cfg.Engine.AgentWidth)
	}
	if cfg.Engine.MaxSnapshotNodes != 500 {
		t.Errorf("expected max snapshot nodes 500, got %d", cfg.Engine.MaxSnapshotNodes)
	}
	if cfg.Facts.FactBufferLimit != 5000 {
		t.Errorf("expected fact buffer limit 5000, got %d", cfg.Facts.FactBufferLimit)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Engine.MaxSnapshotDepth != 40 {
		t.Errorf("expected default max snapshot depth 40, got %d", cfg.Engine.MaxSnapshotDepth)
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
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty server name",
			cfg:     Config{Server: ServerConfig{Name: ""}},
			wantErr: true,
			errMsg:  "server.name is required",
		},
		{
			name: "negative agent dimensions",
			cfg: Config{
				Server: ServerConfig{Name: "test"},
				Engine: EngineConfig{AgentWidth: -1},
			},
			wantErr: true,
			errMsg:  "engine.agent_width and engine.agent_height must be non-negative",
		},
		{
			name: "negative viewport dimensions",
			cfg: Config{
				Server:  ServerConfig{Name: "test"},
				Browser: BrowserConfig{ViewportHeight: -1},
			},
			wantErr: true,
			errMsg:  "browser.viewport_width and browser.viewport_height must be non-negative",
		},
		{
			name: "minimal valid config",
			cfg: Config{
				Server: ServerConfig{Name: "test"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got nil")
				} else if err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
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
		{"empty string", "", 30 * time.Second},
		{"valid duration", "20s", 20 * time.Second},
		{"invalid duration", "invalid", 30 * time.Second},
		{"minutes", "2m", 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{DefaultNavigationTimeout: tt.timeout}
			result := cfg.NavigationTimeout()
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestActionTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  string
		expected time.Duration
	}{
		{"empty string", "", 10 * time.Second},
		{"valid duration", "30s", 30 * time.Second},
		{"invalid duration", "not-a-duration", 10 * time.Second},
		{"milliseconds", "100ms", 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{DefaultActionTimeout: tt.timeout}
			result := cfg.ActionTimeout()
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestSettleDelay(t *testing.T) {
	tests := []struct {
		name     string
		delay    string
		expected time.Duration
	}{
		{"empty string", "", 500 * time.Millisecond},
		{"valid duration", "1s", time.Second},
		{"invalid duration", "bad", 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{StabilizationDelay: tt.delay}
			result := cfg.SettleDelay()
			if result != tt.expected {
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

	t.Run("explicit true", func(t *testing.T) {
		val := true
		cfg := BrowserConfig{Headless: &val}
		if !cfg.IsHeadless() {
			t.Error("expected true when Headless is true")
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

func TestEngineAccessors(t *testing.T) {
	tests := []struct {
		name     string
		cfg      EngineConfig
		width    int
		height   int
		nodes    int
		depth    int
	}{
		{"zero values fall back to defaults", EngineConfig{}, 1456, 819, 2000, 40},
		{"negative values fall back to defaults", EngineConfig{AgentWidth: -1, AgentHeight: -1, MaxSnapshotNodes: -1, MaxSnapshotDepth: -1}, 1456, 819, 2000, 40},
		{"custom values", EngineConfig{AgentWidth: 1024, AgentHeight: 640, MaxSnapshotNodes: 100, MaxSnapshotDepth: 10}, 1024, 640, 100, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAgentWidth(); got != tt.width {
				t.Errorf("GetAgentWidth() = %d, want %d", got, tt.width)
			}
			if got := tt.cfg.GetAgentHeight(); got != tt.height {
				t.Errorf("GetAgentHeight() = %d, want %d", got, tt.height)
			}
			if got := tt.cfg.GetMaxSnapshotNodes(); got != tt.nodes {
				t.Errorf("GetMaxSnapshotNodes() = %d, want %d", got, tt.nodes)
			}
			if got := tt.cfg.GetMaxSnapshotDepth(); got != tt.depth {
				t.Errorf("GetMaxSnapshotDepth() = %d, want %d", got, tt.depth)
			}
		})
	}
}

func TestGetViewportDimensions(t *testing.T) {
	tests := []struct {
		name   string
		cfg    BrowserConfig
		width  int
		height int
	}{
		{"zero defaults", BrowserConfig{}, 1920, 1080},
		{"custom dimensions", BrowserConfig{ViewportWidth: 1280, ViewportHeight: 720}, 1280, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetViewportWidth(); got != tt.width {
				t.Errorf("GetViewportWidth() = %d, want %d", got, tt.width)
			}
			if got := tt.cfg.GetViewportHeight(); got != tt.height {
				t.Errorf("GetViewportHeight() = %d, want %d", got, tt.height)
			}
		})
	}
}
