// Package frontier implements the breadth-first crawl engine: the FIFO
// queue, the visited set, and the depth and page-count bounds.
package frontier

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/logger"
)

// Item is one frontier entry.
type Item struct {
	URL       string
	Depth     int
	ParentURL string
}

// FetchFunc renders one URL. A (nil, nil) return means the page was
// intentionally skipped and contributes nothing to the discovered set.
type FetchFunc func(ctx context.Context, url string, depth int, parentURL string) (*crawl.PageInfo, error)

// Callbacks receive frontier results as they happen.
type Callbacks struct {
	OnPage  func(page *crawl.PageInfo)
	OnError func(url string, err error)
}

// Config bounds one traversal.
type Config struct {
	MaxDepth int
	MaxPages int
	// Delay throttles fetches against the target server.
	Delay time.Duration
	// Exclude filters URLs out of the frontier. May be nil.
	Exclude func(url string) bool
}

// Frontier drives the BFS traversal for one run.
type Frontier struct {
	fetch   FetchFunc
	config  Config
	visited *Visited
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates a frontier around a fetch function.
func New(fetch FetchFunc, config Config, log *logger.Logger) *Frontier {
	if config.Delay <= 0 {
		config.Delay = 300 * time.Millisecond
	}
	return &Frontier{
		fetch:   fetch,
		config:  config,
		visited: NewVisited(config.MaxPages),
		limiter: rate.NewLimiter(rate.Every(config.Delay), 1),
		log:     log.WithComponent("frontier"),
	}
}

// Run walks the link graph breadth-first from root. cont is polled at every
// loop boundary; cancellation is cooperative, so the in-flight fetch always
// completes before the loop observes the flag. Per-URL fetch errors go to
// cb.OnError and never abort the loop. Returns the discovered page count.
func (f *Frontier) Run(ctx context.Context, root string, cont func() bool, cb Callbacks) int {
	queue := []Item{{URL: root, Depth: 0}}
	pages := 0

	for len(queue) > 0 && pages < f.config.MaxPages && cont() {
		item := queue[0]
		queue = queue[1:]

		key := crawl.Canonical(item.URL)
		if f.visited.Has(key) {
			continue
		}
		// Marked visited even when over-depth so the URL is never requeued.
		f.visited.Add(key)
		if item.Depth > f.config.MaxDepth {
			continue
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return pages
		}

		page, err := f.fetch(ctx, item.URL, item.Depth, item.ParentURL)
		if err != nil {
			f.log.WithURL(item.URL).WithError(err).Warn("page fetch failed")
			if cb.OnError != nil {
				cb.OnError(item.URL, err)
			}
			continue
		}
		if page == nil {
			continue
		}

		pages++
		f.log.PageEvent(item.URL, item.Depth, "page discovered")
		if cb.OnPage != nil {
			cb.OnPage(page)
		}

		if item.Depth+1 > f.config.MaxDepth {
			continue
		}
		for _, link := range page.InternalLinks {
			if f.visited.Has(crawl.Canonical(link)) {
				continue
			}
			if f.config.Exclude != nil && f.config.Exclude(link) {
				continue
			}
			queue = append(queue, Item{URL: link, Depth: item.Depth + 1, ParentURL: item.URL})
		}
	}

	return pages
}

// RunList fetches a fixed URL list with the same per-URL contract as Run but
// no frontier expansion and no depth or page bounds. Used for targeted
// re-crawls of a known page subset.
func (f *Frontier) RunList(ctx context.Context, urls []string, cont func() bool, cb Callbacks) int {
	pages := 0

	for _, target := range urls {
		if !cont() {
			break
		}

		key := crawl.Canonical(target)
		if f.visited.Has(key) {
			continue
		}
		f.visited.Add(key)

		if err := f.limiter.Wait(ctx); err != nil {
			return pages
		}

		page, err := f.fetch(ctx, target, 0, "")
		if err != nil {
			f.log.WithURL(target).WithError(err).Warn("page fetch failed")
			if cb.OnError != nil {
				cb.OnError(target, err)
			}
			continue
		}
		if page == nil {
			continue
		}

		pages++
		if cb.OnPage != nil {
			cb.OnPage(page)
		}
	}

	return pages
}
