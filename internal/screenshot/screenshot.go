// Package screenshot captures full-page renders and thumbnails with a
// content-addressed on-disk cache.
package screenshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/sitelens/sitelens/internal/logger"
	"github.com/sitelens/sitelens/internal/urlhash"
)

// Capture geometry and quality. Screenshot content is a pure function of the
// URL, so no timestamp or version is part of the cache key.
const (
	fullPageQuality = 85
	thumbQuality    = 75
	thumbWidth      = 600
	thumbHeight     = 400
)

// Result is the outcome of rendering one URL.
type Result struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"` // file name under the output dir
	FullPage  string `json:"fullPage"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Config holds screenshot engine settings.
type Config struct {
	Dir string `json:"dir" yaml:"dir"`
	// RenderDelay pauses after load so deferred rendering settles.
	RenderDelay time.Duration `json:"render_delay" yaml:"render_delay"`
	// BatchDelay spaces out items within one batch.
	BatchDelay time.Duration `json:"batch_delay" yaml:"batch_delay"`
}

// DefaultConfig returns default screenshot settings.
func DefaultConfig() Config {
	return Config{
		Dir:         "screenshots",
		RenderDelay: time.Second,
		BatchDelay:  200 * time.Millisecond,
	}
}

// Browser is the subset of the browser engine the screenshot pipeline needs.
type Browser interface {
	NewPage(ctx context.Context) (*rod.Page, error)
}

// Engine renders screenshots through the shared browser process. Captures
// within a batch are serialized deliberately: concurrent captures against one
// browser process risk context bleed.
type Engine struct {
	browser Browser
	config  Config
	log     *logger.Logger
}

// NewEngine creates a screenshot engine on top of the shared browser.
func NewEngine(b Browser, config Config, log *logger.Logger) *Engine {
	return &Engine{browser: b, config: config, log: log.WithComponent("screenshot")}
}

// Init ensures the output directory exists. Idempotent; the browser process
// itself launches lazily on first capture.
func (e *Engine) Init() error {
	if err := os.MkdirAll(e.config.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return nil
}

// Capture renders url and persists both images. A cache hit (both files
// already on disk) returns success without touching the browser. Failures
// come back in the Result; Capture never panics or errors past this boundary
// so one bad URL cannot abort a batch.
func (e *Engine) Capture(ctx context.Context, url string) Result {
	result := Result{
		URL:       url,
		Thumbnail: urlhash.ThumbFile(url),
		FullPage:  urlhash.FullFile(url),
	}

	thumbPath := filepath.Join(e.config.Dir, result.Thumbnail)
	fullPath := filepath.Join(e.config.Dir, result.FullPage)

	if fileExists(thumbPath) && fileExists(fullPath) {
		e.log.WithURL(url).Debug("screenshot cache hit")
		result.Success = true
		return result
	}

	page, err := e.browser.NewPage(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer page.Close()

	if err := page.Navigate(url); err != nil {
		result.Error = fmt.Sprintf("navigation failed: %v", err)
		return result
	}
	if err := page.WaitLoad(); err != nil {
		result.Error = fmt.Sprintf("page load failed: %v", err)
		return result
	}

	// Give deferred rendering (fonts, lazy images, animations) a moment.
	time.Sleep(e.config.RenderDelay)

	full, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(fullPageQuality),
	})
	if err != nil {
		result.Error = fmt.Sprintf("full-page capture failed: %v", err)
		return result
	}
	if err := os.WriteFile(fullPath, full, 0o644); err != nil {
		result.Error = fmt.Sprintf("failed to persist full-page image: %v", err)
		return result
	}

	thumb, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(thumbQuality),
		Clip: &proto.PageViewport{
			X:      0,
			Y:      0,
			Width:  thumbWidth,
			Height: thumbHeight,
			Scale:  1,
		},
	})
	if err != nil {
		result.Error = fmt.Sprintf("thumbnail capture failed: %v", err)
		return result
	}
	if err := os.WriteFile(thumbPath, thumb, 0o644); err != nil {
		result.Error = fmt.Sprintf("failed to persist thumbnail: %v", err)
		return result
	}

	result.Success = true
	return result
}

// CaptureAll processes URLs sequentially with a small inter-item delay,
// trading throughput for stability of the target server and the shared
// browser process. The callback receives every result, failed or not.
func (e *Engine) CaptureAll(ctx context.Context, urls []string, each func(Result)) {
	for i, url := range urls {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			time.Sleep(e.config.BatchDelay)
		}
		result := e.Capture(ctx, url)
		if !result.Success {
			e.log.WithURL(url).Warnf("screenshot failed: %s", result.Error)
		}
		if each != nil {
			each(result)
		}
	}
}

// DeleteByURLs removes cached files for the given URLs, tolerating
// individual failures. Returns the number of URLs whose cache entries were
// removed.
func (e *Engine) DeleteByURLs(urls []string) int {
	deleted := 0
	for _, url := range urls {
		removed := false
		for _, name := range []string{urlhash.ThumbFile(url), urlhash.FullFile(url)} {
			if err := os.Remove(filepath.Join(e.config.Dir, name)); err == nil {
				removed = true
			} else if !os.IsNotExist(err) {
				e.log.WithURL(url).Warnf("failed to remove %s: %v", name, err)
			}
		}
		if removed {
			deleted++
		}
	}
	return deleted
}

// Dir returns the on-disk cache location.
func (e *Engine) Dir() string {
	return e.config.Dir
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
