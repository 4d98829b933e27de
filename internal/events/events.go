// Package events defines the closed set of crawl events pushed to live
// consumers, keeping the orchestrator decoupled from the transport.
package events

// Type discriminates the event payload.
type Type string

// Event types.
const (
	TypePageDiscovered  Type = "page-discovered"
	TypeScreenshotReady Type = "page-screenshot-ready"
	TypeProgress        Type = "progress"
	TypeCrawlDiff       Type = "crawl-diff"
	TypeCrawlComplete   Type = "crawl-complete"
	TypeCrawlError      Type = "crawl-error"
)

// Event is one unit pushed to the per-session channel. Exactly one payload
// field is set, matching Type.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`

	Page       *PageDiscovered  `json:"page,omitempty"`
	Screenshot *ScreenshotReady `json:"screenshot,omitempty"`
	Progress   *Progress        `json:"progress,omitempty"`
	Diff       *CrawlDiff       `json:"diff,omitempty"`
	Complete   *CrawlComplete   `json:"complete,omitempty"`
	Error      *CrawlError      `json:"error,omitempty"`
}

// PageDiscovered announces a page entering the discovered set.
type PageDiscovered struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Depth         int      `json:"depth"`
	ParentURL     string   `json:"parentUrl,omitempty"`
	Links         []string `json:"links"`
	InternalLinks []string `json:"internalLinks"`
	ExternalLinks []string `json:"externalLinks"`
}

// ScreenshotReady announces a captured or reused thumbnail.
type ScreenshotReady struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}

// Progress carries monotonically non-decreasing counters within a run.
type Progress struct {
	Found         int `json:"found"`
	Crawled       int `json:"crawled"`
	Screenshotted int `json:"screenshotted"`
}

// CrawlDiff classifies pages against the previous run's cache.
type CrawlDiff struct {
	NewPages      []string `json:"newPages"`
	DeletedPages  []string `json:"deletedPages"`
	ModifiedPages []string `json:"modifiedPages"`
}

// CrawlComplete marks a successful run.
type CrawlComplete struct {
	TotalPages int   `json:"totalPages"`
	DurationMS int64 `json:"durationMs"`
}

// CrawlError reports a per-page or run-level failure.
type CrawlError struct {
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// Sink consumes events. Implementations: the WebSocket hub, the CLI log
// sink, and test recorders.
type Sink interface {
	Publish(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Publish implements Sink.
func (f SinkFunc) Publish(ev Event) { f(ev) }
