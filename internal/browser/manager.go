// Package browser owns the process-wide Chrome lifecycle for every
// automation approach: one browser, named incognito contexts, named pages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"webpilot-mcp-server/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// DefaultContext is the context name used when callers do not ask for one.
const DefaultContext = "default"

// Manager is the single owner of the browser process. All public methods are
// safe for concurrent use; initialization is guarded so only one browser
// exists at a time.
type Manager struct {
	cfg config.BrowserConfig
	log zerolog.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
	headless   bool
	contexts   map[string]*rod.Browser
	pages      map[string]*rod.Page
}

// Info describes the current settings and open resources.
type Info struct {
	Connected      bool     `json:"connected"`
	Headless       bool     `json:"headless"`
	ControlURL     string   `json:"control_url,omitempty"`
	UserAgent      string   `json:"user_agent,omitempty"`
	ViewportWidth  int      `json:"viewport_width"`
	ViewportHeight int      `json:"viewport_height"`
	Contexts       []string `json:"contexts"`
	Pages          []string `json:"pages"`
}

func NewManager(cfg config.BrowserConfig, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log.With().Str("component", "browser").Logger(),
		headless: cfg.IsHeadless(),
		contexts: make(map[string]*rod.Browser),
		pages:    make(map[string]*rod.Page),
	}
}

// Initialize connects to or launches Chrome. It is idempotent: calling it
// again with the same headless flag is a no-op; flipping the flag tears the
// current browser down before a new one is launched.
func (m *Manager) Initialize(ctx context.Context, headless bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			if m.headless == headless {
				return nil
			}
			m.log.Info().Bool("headless", headless).Msg("headless mode changed, relaunching browser")
		} else {
			m.log.Warn().Msg("stale browser connection detected, reconnecting")
		}
		m.teardownLocked()
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		var err error
		controlURL, err = m.launchChrome(headless)
		if err != nil {
			return err
		}
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.headless = headless
	m.log.Info().Str("control_url", controlURL).Bool("headless", headless).Msg("browser connected")
	return nil
}

func (m *Manager) launchChrome(headless bool) (string, error) {
	if len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(headless)
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(headless)
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			return alt, nil
		}
		return url, nil
	}

	url, err := launcher.New().Headless(headless).Launch()
	if err != nil {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	return url, nil
}

// Ensure makes sure a browser is running for the given visibility. A visible
// request against a headless browser relaunches it headful.
func (m *Manager) Ensure(ctx context.Context, showBrowser bool) error {
	headless := m.cfg.IsHeadless() && !showBrowser
	return m.Initialize(ctx, headless)
}

// IsConnected reports whether a browser is currently attached.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// Headless reports the current headless setting.
func (m *Manager) Headless() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headless
}

// NavigationTimeout exposes the configured per-navigation deadline.
func (m *Manager) NavigationTimeout() time.Duration {
	return m.cfg.NavigationTimeout()
}

// GetContext returns the named incognito context, creating it lazily.
func (m *Manager) GetContext(name string) (*rod.Browser, error) {
	if name == "" {
		name = DefaultContext
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil, errors.New("browser not initialized")
	}
	if bctx, ok := m.contexts[name]; ok {
		return bctx, nil
	}

	bctx, err := m.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context %q: %w", name, err)
	}
	m.contexts[name] = bctx
	return bctx, nil
}

// GetPage returns the named page inside a context, creating both lazily. The
// page starts on about:blank with the configured viewport and user agent.
func (m *Manager) GetPage(ctx context.Context, contextName, pageName string) (*rod.Page, error) {
	if contextName == "" {
		contextName = DefaultContext
	}
	if pageName == "" {
		return nil, errors.New("page name is required")
	}

	key := pageKey(contextName, pageName)
	m.mu.Lock()
	if page, ok := m.pages[key]; ok {
		m.mu.Unlock()
		return page, nil
	}
	m.mu.Unlock()

	bctx, err := m.GetContext(contextName)
	if err != nil {
		return nil, err
	}

	page, err := bctx.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page %q: %w", key, err)
	}
	page = page.Context(ctx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.log.Warn().Err(err).Str("page", key).Msg("failed to set viewport")
	}
	if m.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: m.cfg.UserAgent}); err != nil {
			m.log.Warn().Err(err).Str("page", key).Msg("failed to set user agent")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent caller may have raced us here; keep the first page and
	// drop ours so exactly one page exists per name.
	if existing, ok := m.pages[key]; ok {
		_ = page.Close()
		return existing, nil
	}
	m.pages[key] = page
	return page, nil
}

// FindPage returns the first open page whose current URL satisfies match.
func (m *Manager) FindPage(match func(url string) bool) (*rod.Page, bool) {
	m.mu.Lock()
	pages := make([]*rod.Page, 0, len(m.pages))
	for _, page := range m.pages {
		pages = append(pages, page)
	}
	m.mu.Unlock()

	for _, page := range pages {
		info, err := page.Info()
		if err != nil {
			continue
		}
		if match(info.URL) {
			return page, true
		}
	}
	return nil, false
}

// ClosePage closes and forgets the named page.
func (m *Manager) ClosePage(contextName, pageName string) error {
	if contextName == "" {
		contextName = DefaultContext
	}
	key := pageKey(contextName, pageName)

	m.mu.Lock()
	page, ok := m.pages[key]
	delete(m.pages, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := page.Close(); err != nil {
		return fmt.Errorf("close page %q: %w", key, err)
	}
	return nil
}

// CloseContext closes the named context along with every page it owns.
func (m *Manager) CloseContext(name string) error {
	if name == "" {
		name = DefaultContext
	}

	m.mu.Lock()
	bctx, ok := m.contexts[name]
	delete(m.contexts, name)
	prefix := name + "/"
	for key, page := range m.pages {
		if strings.HasPrefix(key, prefix) {
			_ = page.Close()
			delete(m.pages, key)
		}
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := bctx.Close(); err != nil {
		return fmt.Errorf("close context %q: %w", name, err)
	}
	return nil
}

// Close tears down all pages, contexts, and the browser. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardownLocked()
}

func (m *Manager) teardownLocked() error {
	for key, page := range m.pages {
		_ = page.Close()
		delete(m.pages, key)
	}
	for name, bctx := range m.contexts {
		_ = bctx.Close()
		delete(m.contexts, name)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.log.Info().Msg("browser shutdown complete")
	return err
}

// Info returns current settings and the open contexts/pages.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		Connected:      m.browser != nil,
		Headless:       m.headless,
		ControlURL:     m.controlURL,
		UserAgent:      m.cfg.UserAgent,
		ViewportWidth:  m.cfg.GetViewportWidth(),
		ViewportHeight: m.cfg.GetViewportHeight(),
		Contexts:       make([]string, 0, len(m.contexts)),
		Pages:          make([]string, 0, len(m.pages)),
	}
	for name := range m.contexts {
		info.Contexts = append(info.Contexts, name)
	}
	for key := range m.pages {
		info.Pages = append(info.Pages, key)
	}
	sort.Strings(info.Contexts)
	sort.Strings(info.Pages)
	return info
}

func pageKey(contextName, pageName string) string {
	return contextName + "/" + pageName
}
