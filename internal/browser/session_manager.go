package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/facts"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// ErrSessionLost is returned when the browser process died and the single
// permitted relaunch attempt also failed. Callers should treat the session
// as unrecoverable.
var ErrSessionLost = errors.New("browser session lost")

// Session is lightweight metadata about the controlled page.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// FactSink defines the minimal interface we need from the telemetry layer.
type FactSink interface {
	AddFacts(ctx context.Context, fs []facts.Fact) error
}

// SessionManager owns the Chrome instance and the single controlled page.
// All agent actions target this page; its ref registry carries element refs
// across snapshots until navigation invalidates them.
type SessionManager struct {
	cfg  config.BrowserConfig
	sink FactSink

	mu         sync.RWMutex
	browser    *rod.Browser
	page       *rod.Page
	registry   *RefRegistry
	meta       Session
	controlURL string
	started    bool
	relaunched bool
}

func NewSessionManager(cfg config.BrowserConfig, sink FactSink) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		sink:     sink,
		registry: NewRefRegistry(),
	}
}

// Start connects to an existing Chrome or launches a new one using Rod's
// launcher, then opens the controlled page.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil // healthy, reuse it
		}
		log.Printf("Stale browser connection detected, reconnecting...")
		m.teardownLocked()
	}

	return m.connectLocked(ctx)
}

// connectLocked establishes the browser connection and controlled page.
// Caller holds m.mu.
func (m *SessionManager) connectLocked(ctx context.Context) error {
	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := m.launchChrome()
		if err != nil {
			return err
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}

	m.browser = browser
	m.page = page
	m.controlURL = controlURL
	m.started = true
	m.meta = Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        "about:blank",
		Status:     "active",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	// Refs never survive a new document, and a new connection always
	// starts one. The counter itself keeps climbing.
	m.registry.InvalidateAll()

	log.Printf("Browser connected at %s (viewport %dx%d)",
		controlURL, m.cfg.GetViewportWidth(), m.cfg.GetViewportHeight())
	return nil
}

// launchChrome starts Chrome via Rod's launcher, honoring a configured
// binary and extra flags, with a plain-defaults fallback.
func (m *SessionManager) launchChrome() (string, error) {
	launch := launcher.New().Headless(m.cfg.IsHeadless())
	if len(m.cfg.Launch) > 0 {
		launch = launch.Bin(m.cfg.Launch[0])
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
	}

	url, err := launch.Launch()
	if err != nil {
		// Fallback: let Rod pick the binary, port, and defaults.
		fallback := launcher.New().Headless(m.cfg.IsHeadless())
		alt, altErr := fallback.Launch()
		if altErr != nil {
			return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
		}
		return alt, nil
	}
	return url, nil
}

// EnsureSession returns the controlled page, verifying browser health first.
// A dead browser gets exactly one relaunch attempt per manager lifetime;
// after that every call returns ErrSessionLost.
func (m *SessionManager) EnsureSession(ctx context.Context) (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			m.meta.LastActive = time.Now()
			return m.page, nil
		}
	}

	// The first connect is lazy startup, not a recovery. Losing an
	// established browser spends the single relaunch attempt.
	if m.started {
		if m.relaunched {
			m.teardownLocked()
			return nil, ErrSessionLost
		}
		m.relaunched = true
		log.Printf("Browser unreachable, attempting relaunch")
	}

	m.teardownLocked()
	if err := m.connectLocked(ctx); err != nil {
		if m.relaunched {
			return nil, fmt.Errorf("%w: relaunch failed: %v", ErrSessionLost, err)
		}
		return nil, err
	}
	m.emit(ctx, facts.Fact{
		Predicate: "navigation_event",
		Args:      []interface{}{"about:blank", "connect", "ok"},
		Timestamp: time.Now(),
	})
	return m.page, nil
}

// teardownLocked drops the connection state. Caller holds m.mu.
func (m *SessionManager) teardownLocked() {
	if m.browser != nil {
		_ = m.browser.Close()
	}
	m.browser = nil
	m.page = nil
	m.controlURL = ""
	m.meta.Status = "disconnected"
	m.registry.InvalidateAll()
}

// NormalizeURL adds an https scheme to bare hostnames so agents can say
// "example.com" and get somewhere. URLs that already carry a scheme pass
// through untouched.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if strings.Contains(trimmed, "://") ||
		strings.HasPrefix(trimmed, "about:") ||
		strings.HasPrefix(trimmed, "data:") ||
		strings.HasPrefix(trimmed, "chrome:") ||
		strings.HasPrefix(trimmed, "javascript:") {
		return trimmed
	}
	return "https://" + trimmed
}

// Navigate loads a URL or traverses session history ("back" / "forward").
// Any successful navigation invalidates every issued ref.
func (m *SessionManager) Navigate(ctx context.Context, target string) error {
	page, err := m.EnsureSession(ctx)
	if err != nil {
		return err
	}

	timeout := m.cfg.NavigationTimeout()
	var dest string
	var navErr error

	switch target {
	case "back":
		dest = "back"
		navErr = page.Timeout(timeout).NavigateBack()
	case "forward":
		dest = "forward"
		navErr = page.Timeout(timeout).NavigateForward()
	default:
		dest = NormalizeURL(target)
		navErr = page.Timeout(timeout).Navigate(dest)
	}

	if navErr == nil {
		navErr = page.Timeout(timeout).WaitLoad()
	}

	status := "ok"
	if navErr != nil {
		status = "failed"
	}
	direction := "url"
	if target == "back" || target == "forward" {
		direction = target
	}
	m.emit(ctx, facts.Fact{
		Predicate: "navigation_event",
		Args:      []interface{}{dest, direction, status},
		Timestamp: time.Now(),
	})

	if navErr != nil {
		return fmt.Errorf("navigate %s: %w", dest, navErr)
	}

	m.mu.Lock()
	// Refs never survive a document change. The epoch itself advances on
	// the next snapshot build, not here, since epochs number snapshots.
	m.registry.InvalidateAll()
	if info, err := page.Info(); err == nil {
		m.meta.URL = info.URL
		m.meta.Title = info.Title
	} else {
		m.meta.URL = dest
	}
	m.meta.LastActive = time.Now()
	m.mu.Unlock()

	return nil
}

// Page returns the controlled page when connected.
func (m *SessionManager) Page() (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.page == nil {
		return nil, false
	}
	return m.page, true
}

// Registry returns the session's ref registry.
func (m *SessionManager) Registry() *RefRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

// Session returns the current session metadata.
func (m *SessionManager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

// UpdateMetadata refreshes session metadata after page state changes.
func (m *SessionManager) UpdateMetadata(updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = updater(m.meta)
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// Shutdown closes the controlled page and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.page != nil {
		_ = m.page.Close()
		m.page = nil
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.meta.Status = "closed"
	log.Printf("Browser shutdown complete")
	return err
}

// emit forwards a telemetry fact, dropping it when no sink is configured.
func (m *SessionManager) emit(ctx context.Context, f facts.Fact) {
	if m.sink == nil {
		return
	}
	if err := m.sink.AddFacts(ctx, []facts.Fact{f}); err != nil {
		log.Printf("warning: fact emission failed: %v", err)
	}
}
