// Package browser provides headless Chrome integration via Rod.
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/logger"
)

// Config defines browser configuration.
type Config struct {
	Headless        bool          `json:"headless" yaml:"headless"`
	NavTimeout      time.Duration `json:"nav_timeout" yaml:"nav_timeout"`
	SettleDelay     time.Duration `json:"settle_delay" yaml:"settle_delay"`
	ViewportWidth   int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int           `json:"viewport_height" yaml:"viewport_height"`
	UserAgent       string        `json:"user_agent" yaml:"user_agent"`
	SoftErrorMinLen int           `json:"soft_error_min_len" yaml:"soft_error_min_len"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Headless:        true,
		NavTimeout:      15 * time.Second,
		SettleDelay:     500 * time.Millisecond,
		ViewportWidth:   1280,
		ViewportHeight:  800,
		UserAgent:       "SiteLens/1.0 (Visual Sitemap Crawler)",
		SoftErrorMinLen: 100,
	}
}

// Engine owns the single shared headless browser process. Rendering contexts
// (pages) created from it are independent per call.
type Engine struct {
	config Config
	log    *logger.Logger

	mu      sync.Mutex
	browser *rod.Browser
	auth    *crawl.BasicAuth
}

// NewEngine creates an engine. The browser process is not launched until the
// first page is requested.
func NewEngine(config Config, log *logger.Logger) *Engine {
	return &Engine{config: config, log: log.WithComponent("browser")}
}

// SetAuth installs basic-auth credentials applied to every page created
// afterwards. Passing nil clears them.
func (e *Engine) SetAuth(auth *crawl.BasicAuth) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auth = auth
}

// Start lazily launches the shared browser process. Safe to call repeatedly.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked()
}

func (e *Engine) startLocked() error {
	if e.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(e.config.Headless).
		Set("ignore-certificate-errors", "true")

	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	e.browser = browser
	e.log.Debug("browser process launched")
	return nil
}

// NewPage creates an isolated page bound to ctx with the configured viewport,
// user agent, auth headers and navigation timeout. The caller must Close it.
func (e *Engine) NewPage(ctx context.Context) (*rod.Page, error) {
	e.mu.Lock()
	if err := e.startLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	browser := e.browser
	auth := e.auth
	e.mu.Unlock()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	page = page.Context(ctx).Timeout(e.config.NavTimeout)

	// Viewport and user agent are best-effort.
	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  e.config.ViewportWidth,
		Height: e.config.ViewportHeight,
	})
	if e.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: e.config.UserAgent}.Call(page)
	}

	if auth != nil {
		cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		headers := proto.NetworkHeaders{"Authorization": gson.New("Basic " + cred)}
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: headers}.Call(page)
	}

	return page, nil
}

// Close tears down the shared browser process. A later Start relaunches it.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser == nil {
		return nil
	}
	err := e.browser.Close()
	e.browser = nil
	return err
}
