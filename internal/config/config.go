package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the WebPilot MCP server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Engine  EngineConfig  `yaml:"engine"`
	MCP     MCPConfig     `yaml:"mcp"`
	Facts   FactsConfig   `yaml:"facts"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// When set, dispatched actions are appended to rotating JSONL traces
	// under this directory.
	TraceDir string `yaml:"trace_dir"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). When empty, a browser is launched.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "30s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout for a single pointer or keyboard action (e.g., "10s").
	DefaultActionTimeout string `yaml:"default_action_timeout"`
	// Settle delay after a mutating action before the follow-up screenshot (e.g., "500ms").
	StabilizationDelay string `yaml:"stabilization_delay"`
	// Viewport width for new sessions (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

// EngineConfig tunes the action engine's agent-facing coordinate space and
// the bounds on structural page snapshots.
type EngineConfig struct {
	// Width of the coordinate space the agent addresses (default: 1456).
	AgentWidth int `yaml:"agent_width"`
	// Height of the coordinate space the agent addresses (default: 819).
	AgentHeight int `yaml:"agent_height"`
	// Maximum nodes included in one structural snapshot (default: 2000).
	MaxSnapshotNodes int `yaml:"max_snapshot_nodes"`
	// Maximum DOM depth walked when building a snapshot (default: 40).
	MaxSnapshotDepth int `yaml:"max_snapshot_depth"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// FactsConfig controls the embedded deductive telemetry store.
type FactsConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "webpilot-mcp",
			Version: "0.1.0",
			LogFile: "webpilot-mcp.log",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "30s",
			DefaultActionTimeout:     "10s",
			StabilizationDelay:       "500ms",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Engine: EngineConfig{
			AgentWidth:       1456,
			AgentHeight:      819,
			MaxSnapshotNodes: 2000,
			MaxSnapshotDepth: 40,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Facts: FactsConfig{
			Enable:          true,
			SchemaPath:      "",
			FactBufferLimit: 2048,
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

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Engine.AgentWidth < 0 || c.Engine.AgentHeight < 0 {
		return errors.New("engine.agent_width and engine.agent_height must be non-negative")
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return errors.New("browser.viewport_width and browser.viewport_height must be non-negative")
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	if b.DefaultNavigationTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultNavigationTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ActionTimeout returns the parsed per-action timeout with a sane default.
func (b BrowserConfig) ActionTimeout() time.Duration {
	if b.DefaultActionTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(b.DefaultActionTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// SettleDelay returns the parsed post-action stabilization delay.
func (b BrowserConfig) SettleDelay() time.Duration {
	if b.StabilizationDelay == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(b.StabilizationDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
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

// GetAgentWidth returns the agent-space width with a sane default.
func (e EngineConfig) GetAgentWidth() int {
	if e.AgentWidth <= 0 {
		return 1456
	}
	return e.AgentWidth
}

// GetAgentHeight returns the agent-space height with a sane default.
func (e EngineConfig) GetAgentHeight() int {
	if e.AgentHeight <= 0 {
		return 819
	}
	return e.AgentHeight
}

// GetMaxSnapshotNodes returns the snapshot node cap with a sane default.
func (e EngineConfig) GetMaxSnapshotNodes() int {
	if e.MaxSnapshotNodes <= 0 {
		return 2000
	}
	return e.MaxSnapshotNodes
}

// GetMaxSnapshotDepth returns the snapshot depth cap with a sane default.
func (e EngineConfig) GetMaxSnapshotDepth() int {
	if e.MaxSnapshotDepth <= 0 {
		return 40
	}
	return e.MaxSnapshotDepth
}
