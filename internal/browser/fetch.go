package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sitelens/sitelens/internal/crawl"
)

// Fetcher renders pages of one target site and extracts their link graphs.
type Fetcher struct {
	engine   *Engine
	baseHost string
}

// NewFetcher creates a fetcher rooted at target. Links are classified as
// internal iff their resolved host equals the target's host.
func NewFetcher(engine *Engine, target string) (*Fetcher, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("target URL %q has no host", target)
	}
	return &Fetcher{engine: engine, baseHost: parsed.Host}, nil
}

// Fetch renders one URL and returns its PageInfo.
//
// Returns (nil, nil) when the page should be silently skipped: an error
// status with too little rendered content (a hard 404 rather than a
// client-routed soft one), or a navigation timeout below the root — sub-page
// timeouts are expected and must not abort the crawl.
func (f *Fetcher) Fetch(ctx context.Context, target string, depth int, parentURL string) (*crawl.PageInfo, error) {
	page, err := f.engine.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	// The main document response arrives before load, so the status is in
	// place by the time WaitLoad returns.
	var status atomic.Int64
	wait := page.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if ev.Type == proto.NetworkResourceTypeDocument {
			status.Store(int64(ev.Response.Status))
			return true
		}
		return false
	})
	go wait()

	if err := page.Navigate(target); err != nil {
		return f.skipOrFail(target, depth, err)
	}
	if err := page.WaitLoad(); err != nil {
		return f.skipOrFail(target, depth, err)
	}

	// Settle delay for lazily rendered content.
	time.Sleep(f.engine.config.SettleDelay)

	statusCode := int(status.Load())
	if statusCode >= 400 {
		// SPA heuristic: an error status whose rendered body still carries
		// substantive content is a client-routed page, not a dead end.
		if f.renderedTextLength(page) < f.engine.config.SoftErrorMinLen {
			f.engine.log.WithURL(target).Debugf("dropping page with status %d and thin content", statusCode)
			return nil, nil
		}
	}

	finalURL := target
	if info, err := page.Info(); err == nil && info != nil && info.URL != "" {
		finalURL = info.URL
	}

	title := ""
	if obj, err := page.Eval(`() => document.title`); err == nil {
		title = strings.TrimSpace(obj.Value.Str())
	}
	if title == "" {
		title = target
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered HTML for %s: %w", target, err)
	}

	links, err := ExtractLinks(html, finalURL, f.baseHost)
	if err != nil {
		return nil, fmt.Errorf("failed to extract links from %s: %w", target, err)
	}

	return &crawl.PageInfo{
		URL:           target,
		Title:         title,
		Depth:         depth,
		ParentURL:     parentURL,
		Links:         links.All,
		InternalLinks: links.Internal,
		ExternalLinks: links.External,
		StatusCode:    statusCode,
	}, nil
}

// skipOrFail converts sub-page timeouts into silent skips; everything else
// propagates for the caller to log.
func (f *Fetcher) skipOrFail(target string, depth int, err error) (*crawl.PageInfo, error) {
	if depth > 0 && isTimeout(err) {
		f.engine.log.WithURL(target).Debug("sub-page navigation timed out, skipping")
		return nil, nil
	}
	return nil, fmt.Errorf("navigation failed for %s: %w", target, err)
}

func (f *Fetcher) renderedTextLength(page *rod.Page) int {
	obj, err := page.Eval(`() => document.body ? document.body.innerText.trim().length : 0`)
	if err != nil {
		return 0
	}
	return int(obj.Value.Num())
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "timeout")
}
