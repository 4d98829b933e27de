// Package session tracks the lifecycle and accumulated state of crawl runs.
package session

import (
	"time"

	"github.com/sitelens/sitelens/internal/crawl"
)

// Status is a session lifecycle phase.
type Status string

const (
	StatusCrawling       Status = "crawling"
	StatusScreenshotting Status = "screenshotting"
	StatusComplete       Status = "complete"
	StatusError          Status = "error"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Session is the state of one crawl run. All mutation goes through the
// Manager, which owns the locking; a Session handed out by Snapshot is a
// detached copy.
type Session struct {
	ID     string       `json:"sessionId"`
	Config crawl.Config `json:"config"`
	Status Status       `json:"status"`

	// Pages is keyed by canonical URL; pageOrder preserves discovery order.
	Pages     map[string]*crawl.PageInfo `json:"-"`
	pageOrder []string

	// Screenshots maps page URL to thumbnail file name.
	Screenshots map[string]string `json:"-"`

	Errors []string `json:"errors,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	cancelled bool
}

// Progress is a point-in-time counter snapshot. Found tracks Crawled by
// construction: a page is counted the moment its render completes, so the
// numbers advance together.
type Progress struct {
	Found         int `json:"found"`
	Crawled       int `json:"crawled"`
	Screenshotted int `json:"screenshotted"`
}
