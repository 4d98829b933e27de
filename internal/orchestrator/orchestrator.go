// Package orchestrator runs crawl sessions end to end: strategy selection,
// the crawl phase, the screenshot phase, diffing against the site cache, and
// event emission.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/events"
	"github.com/sitelens/sitelens/internal/frontier"
	"github.com/sitelens/sitelens/internal/logger"
	"github.com/sitelens/sitelens/internal/screenshot"
	"github.com/sitelens/sitelens/internal/session"
	"github.com/sitelens/sitelens/internal/sitecache"
)

// Strategy precondition failures.
var (
	ErrNoPreviousCrawl  = errors.New("no previous crawl data for site")
	ErrNoActiveFeedback = errors.New("no active feedback for site")
)

// Fetcher renders one page. A (nil, nil) return is a deliberate skip.
type Fetcher interface {
	Fetch(ctx context.Context, url string, depth int, parentURL string) (*crawl.PageInfo, error)
}

// Screenshotter captures and evicts cached screenshots.
type Screenshotter interface {
	Capture(ctx context.Context, url string) screenshot.Result
	CaptureAll(ctx context.Context, urls []string, each func(screenshot.Result))
	DeleteByURLs(urls []string) int
}

// SiteCache is the persistence surface the orchestrator needs.
type SiteCache interface {
	LoadPreviousGraph(siteID string) map[string]sitecache.CachedPage
	LoadPreviousURLs(siteID string) []string
	LoadActiveFeedbackURLs(siteID string) []string
	SaveGraph(siteID string, pages []*crawl.PageInfo, thumbs map[string]string) error
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Sessions *session.Manager
	// NewFetcher builds a fetcher scoped to one target site.
	NewFetcher func(target string, auth *crawl.BasicAuth) (Fetcher, error)
	Shots      Screenshotter
	Cache      SiteCache
	Sink       events.Sink
	Log        *logger.Logger
	// FetchDelay throttles page fetches; zero means the frontier default.
	FetchDelay time.Duration
}

// Orchestrator drives crawl sessions.
type Orchestrator struct {
	deps Deps
	log  *logger.Logger
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Sink == nil {
		deps.Sink = events.NopSink{}
	}
	return &Orchestrator{deps: deps, log: deps.Log.WithComponent("orchestrator")}
}

// Submit validates a config and starts its crawl asynchronously. If a
// non-terminal session is already crawling the same root URL, its ID is
// returned instead of starting a duplicate run.
func (o *Orchestrator) Submit(ctx context.Context, config crawl.Config) (string, error) {
	if err := config.Validate(); err != nil {
		return "", err
	}
	config.Clamp()

	if existing := o.deps.Sessions.FindActiveByURL(config.URL); existing != nil {
		o.log.WithSession(existing.ID).WithURL(config.URL).Info("duplicate submission joined to active session")
		return existing.ID, nil
	}

	s := o.deps.Sessions.Create(config)
	go o.Run(ctx, s.ID)
	return s.ID, nil
}

// Run executes a session synchronously. The config is assumed validated and
// clamped. A panic anywhere in the pipeline lands the session in the error
// state instead of taking the process down.
func (o *Orchestrator) Run(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithSession(id).Errorf("crawl panicked: %v", r)
			o.fail(id, fmt.Sprintf("internal error: %v", r), "")
		}
	}()

	s := o.deps.Sessions.Get(id)
	if s == nil {
		return
	}
	start := time.Now()

	switch s.Config.RunMode {
	case crawl.RunScreenshotOnly:
		o.runScreenshotOnly(ctx, id, s.Config, start)
	case crawl.RunFeedbackOnly:
		o.runFeedbackOnly(ctx, id, s.Config, start)
	default:
		o.runStandard(ctx, id, s.Config, start)
	}
}

// runStandard is the BFS strategy: crawl from the root, diff against the
// previous run when a site cache entry applies, then screenshot every
// discovered page with smart reuse for unchanged ones.
func (o *Orchestrator) runStandard(ctx context.Context, id string, cfg crawl.Config, start time.Time) {
	var prev map[string]sitecache.CachedPage
	if cfg.SmartReuse() && o.deps.Cache != nil {
		prev = o.deps.Cache.LoadPreviousGraph(cfg.SiteID)
	}

	fetcher, err := o.deps.NewFetcher(cfg.URL, cfg.Auth)
	if err != nil {
		o.fail(id, fmt.Sprintf("browser unavailable: %v", err), "")
		return
	}

	f := frontier.New(fetcher.Fetch, frontier.Config{
		MaxDepth: cfg.MaxDepth,
		MaxPages: cfg.MaxPages,
		Delay:    o.deps.FetchDelay,
		Exclude:  cfg.OutOfScope,
	}, o.deps.Log)

	count := f.Run(ctx, cfg.URL, o.notCancelled(id), o.crawlCallbacks(id))

	if o.deps.Sessions.IsCancelled(id) {
		return
	}
	if count == 0 {
		o.fail(id, "crawl produced no pages", cfg.URL)
		return
	}

	pages := o.deps.Sessions.Pages(id)
	if len(prev) > 0 {
		if d := sitecache.Diff(pages, prev); !d.Empty() {
			o.publish(events.Event{Type: events.TypeCrawlDiff, SessionID: id, Diff: &events.CrawlDiff{
				NewPages:      d.New,
				DeletedPages:  d.Deleted,
				ModifiedPages: d.Modified,
			}})
		}
	}

	o.deps.Sessions.SetStatus(id, session.StatusScreenshotting)
	o.screenshotPhase(ctx, id, pages, prev)

	o.finish(id, cfg, start, true)
}

// runScreenshotOnly re-captures every page of the previous crawl without
// touching the link graph. The cached images are evicted up front so every
// page gets a fresh render.
func (o *Orchestrator) runScreenshotOnly(ctx context.Context, id string, cfg crawl.Config, start time.Time) {
	urls := o.deps.Cache.LoadPreviousURLs(cfg.SiteID)
	if len(urls) == 0 {
		o.fail(id, ErrNoPreviousCrawl.Error(), "")
		return
	}

	o.deps.Shots.DeleteByURLs(urls)

	for _, url := range urls {
		page := &crawl.PageInfo{URL: url, Depth: 0}
		o.deps.Sessions.AddPage(id, page)
		o.publishPage(id, page)
		o.publishProgress(id)
	}

	o.deps.Sessions.SetStatus(id, session.StatusScreenshotting)
	o.screenshotPhase(ctx, id, o.deps.Sessions.Pages(id), nil)

	// The stored graph stays authoritative; this run carries no link data.
	o.finish(id, cfg, start, false)
}

// runFeedbackOnly re-crawls only the pages carrying active feedback. Pages
// are re-rendered and re-captured unconditionally: the whole point is a
// fresh look at pages under review, so smart reuse does not apply.
func (o *Orchestrator) runFeedbackOnly(ctx context.Context, id string, cfg crawl.Config, start time.Time) {
	urls := o.deps.Cache.LoadActiveFeedbackURLs(cfg.SiteID)
	if len(urls) == 0 {
		o.fail(id, ErrNoActiveFeedback.Error(), "")
		return
	}

	fetcher, err := o.deps.NewFetcher(cfg.URL, cfg.Auth)
	if err != nil {
		o.fail(id, fmt.Sprintf("browser unavailable: %v", err), "")
		return
	}

	f := frontier.New(fetcher.Fetch, frontier.Config{
		MaxDepth: cfg.MaxDepth,
		MaxPages: cfg.MaxPages,
		Delay:    o.deps.FetchDelay,
	}, o.deps.Log)

	count := f.RunList(ctx, urls, o.notCancelled(id), o.crawlCallbacks(id))

	if o.deps.Sessions.IsCancelled(id) {
		return
	}
	if count == 0 {
		o.fail(id, "no feedback pages could be crawled", "")
		return
	}

	o.deps.Shots.DeleteByURLs(urls)
	o.deps.Sessions.SetStatus(id, session.StatusScreenshotting)
	o.screenshotPhase(ctx, id, o.deps.Sessions.Pages(id), nil)

	o.finish(id, cfg, start, false)
}

// screenshotPhase captures pages in discovery order. Without a previous
// graph the whole set goes through the engine's paced batch helper; with one,
// an unchanged page with a cached thumbnail is reused without a render and
// the rest are captured individually. Cancellation is honored between pages.
func (o *Orchestrator) screenshotPhase(ctx context.Context, id string, pages []*crawl.PageInfo, prev map[string]sitecache.CachedPage) {
	if len(prev) == 0 {
		o.captureBatch(ctx, id, pages)
		return
	}

	for _, page := range pages {
		if o.deps.Sessions.IsCancelled(id) {
			return
		}

		cached, ok := prev[crawl.Canonical(page.URL)]
		if ok && cached.ThumbnailRef != "" && !sitecache.HasPageChanged(page, cached) {
			o.deps.Sessions.AddScreenshot(id, page.URL, cached.ThumbnailRef)
			o.publishScreenshot(id, page.URL, cached.ThumbnailRef)
			o.publishProgress(id)
			continue
		}

		o.recordCapture(id, o.deps.Shots.Capture(ctx, page.URL))
	}
}

// captureBatch drives the engine's sequential batch helper. Session
// cancellation propagates into the batch context, so the batch stops at the
// next item boundary once the flag is observed.
func (o *Orchestrator) captureBatch(ctx context.Context, id string, pages []*crawl.PageInfo) {
	if len(pages) == 0 {
		return
	}
	urls := make([]string, 0, len(pages))
	for _, page := range pages {
		urls = append(urls, page.URL)
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.deps.Shots.CaptureAll(batchCtx, urls, func(result screenshot.Result) {
		if o.deps.Sessions.IsCancelled(id) {
			cancel()
			return
		}
		o.recordCapture(id, result)
	})
}

// recordCapture lands one capture outcome in the session and on the event
// stream. A progress event follows every page, failed or not.
func (o *Orchestrator) recordCapture(id string, result screenshot.Result) {
	if !result.Success {
		o.deps.Sessions.AddError(id, result.URL, fmt.Errorf("screenshot failed: %s", result.Error))
		o.publish(events.Event{Type: events.TypeCrawlError, SessionID: id, Error: &events.CrawlError{
			Message: result.Error,
			URL:     result.URL,
		}})
		o.publishProgress(id)
		return
	}
	o.deps.Sessions.AddScreenshot(id, result.URL, result.Thumbnail)
	o.publishScreenshot(id, result.URL, result.Thumbnail)
	o.publishProgress(id)
}

// finish completes a session: persists the graph when this run produced an
// authoritative one, stamps the terminal state and emits the completion
// event.
func (o *Orchestrator) finish(id string, cfg crawl.Config, start time.Time, saveGraph bool) {
	if o.deps.Sessions.IsCancelled(id) {
		return
	}

	if saveGraph && cfg.SiteID != "" && o.deps.Cache != nil {
		snap := o.deps.Sessions.Snapshot(id)
		if err := o.deps.Cache.SaveGraph(cfg.SiteID, o.deps.Sessions.Pages(id), snap.Screenshots); err != nil {
			o.log.WithSession(id).WithError(err).Warn("failed to persist crawl graph")
		}
	}

	if !o.deps.Sessions.SetStatus(id, session.StatusComplete) {
		return
	}

	progress := o.deps.Sessions.Progress(id)
	o.publish(events.Event{Type: events.TypeCrawlComplete, SessionID: id, Complete: &events.CrawlComplete{
		TotalPages: progress.Crawled,
		DurationMS: time.Since(start).Milliseconds(),
	}})
	o.log.WithSession(id).Infof("crawl complete: %d pages in %s", progress.Crawled, time.Since(start).Round(time.Millisecond))
}

func (o *Orchestrator) fail(id, message, url string) {
	if !o.deps.Sessions.SetStatus(id, session.StatusError) {
		return
	}
	o.publish(events.Event{Type: events.TypeCrawlError, SessionID: id, Error: &events.CrawlError{
		Message: message,
		URL:     url,
	}})
	o.log.WithSession(id).Error(message)
}

func (o *Orchestrator) notCancelled(id string) func() bool {
	return func() bool { return !o.deps.Sessions.IsCancelled(id) }
}

func (o *Orchestrator) crawlCallbacks(id string) frontier.Callbacks {
	return frontier.Callbacks{
		OnPage: func(page *crawl.PageInfo) {
			o.deps.Sessions.AddPage(id, page)
			o.publishPage(id, page)
			o.publishProgress(id)
		},
		OnError: func(url string, err error) {
			o.deps.Sessions.AddError(id, url, err)
			o.publish(events.Event{Type: events.TypeCrawlError, SessionID: id, Error: &events.CrawlError{
				Message: err.Error(),
				URL:     url,
			}})
		},
	}
}

func (o *Orchestrator) publishPage(id string, page *crawl.PageInfo) {
	o.publish(events.Event{Type: events.TypePageDiscovered, SessionID: id, Page: &events.PageDiscovered{
		URL:           page.URL,
		Title:         page.Title,
		Depth:         page.Depth,
		ParentURL:     page.ParentURL,
		Links:         page.Links,
		InternalLinks: page.InternalLinks,
		ExternalLinks: page.ExternalLinks,
	}})
}

func (o *Orchestrator) publishScreenshot(id, url, thumbnail string) {
	o.publish(events.Event{Type: events.TypeScreenshotReady, SessionID: id, Screenshot: &events.ScreenshotReady{
		URL:       url,
		Thumbnail: thumbnail,
	}})
}

func (o *Orchestrator) publishProgress(id string) {
	p := o.deps.Sessions.Progress(id)
	o.publish(events.Event{Type: events.TypeProgress, SessionID: id, Progress: &events.Progress{
		Found:         p.Found,
		Crawled:       p.Crawled,
		Screenshotted: p.Screenshotted,
	}})
}

func (o *Orchestrator) publish(ev events.Event) {
	o.deps.Sink.Publish(ev)
}
