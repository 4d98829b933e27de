package session

import (
	"errors"
	"testing"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/logger"
)

func newManager() *Manager {
	return NewManager(logger.Nop())
}

func testCrawlConfig() crawl.Config {
	return crawl.Config{URL: "https://site.test/", MaxDepth: 2, MaxPages: 50}
}

func TestCreate(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())

	if s.ID == "" {
		t.Fatal("session has no ID")
	}
	if s.Status != StatusCrawling {
		t.Errorf("Status = %s, want %s", s.Status, StatusCrawling)
	}
	if got := m.Get(s.ID); got != s {
		t.Error("Get did not return the created session")
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		want []bool
	}{
		{
			name: "full lifecycle",
			path: []Status{StatusScreenshotting, StatusComplete},
			want: []bool{true, true},
		},
		{
			name: "no exit from complete",
			path: []Status{StatusComplete, StatusCrawling},
			want: []bool{true, false},
		},
		{
			name: "no exit from error",
			path: []Status{StatusError, StatusScreenshotting},
			want: []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager()
			s := m.Create(testCrawlConfig())
			for i, status := range tt.path {
				if got := m.SetStatus(s.ID, status); got != tt.want[i] {
					t.Errorf("SetStatus(%s) = %v, want %v", status, got, tt.want[i])
				}
			}
		})
	}
}

func TestCompletedAtStampedOnce(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())

	m.SetStatus(s.ID, StatusComplete)
	first := m.Snapshot(s.ID).CompletedAt
	if first == nil {
		t.Fatal("terminal transition did not stamp CompletedAt")
	}

	m.SetStatus(s.ID, StatusError)
	if got := m.Snapshot(s.ID).CompletedAt; !got.Equal(*first) {
		t.Error("refused transition changed CompletedAt")
	}
}

func TestCancelSticky(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())

	if !m.Cancel(s.ID) {
		t.Fatal("Cancel() = false on a running session")
	}
	if !m.Cancel(s.ID) {
		t.Error("repeated Cancel() should stay true")
	}
	if !m.IsCancelled(s.ID) {
		t.Error("IsCancelled() = false after Cancel")
	}
	if got := m.Get(s.ID).Status; got != StatusCancelled {
		t.Errorf("Status = %s, want %s", got, StatusCancelled)
	}

	// A racing run loop finishing late must not overwrite the cancellation.
	if m.SetStatus(s.ID, StatusComplete) {
		t.Error("SetStatus(complete) succeeded on a cancelled session")
	}
	if got := m.Get(s.ID).Status; got != StatusCancelled {
		t.Errorf("Status after late complete = %s, want %s", got, StatusCancelled)
	}
}

func TestCancelAfterTerminal(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())
	m.SetStatus(s.ID, StatusComplete)

	if m.Cancel(s.ID) {
		t.Error("Cancel() on a completed session should be refused")
	}
	if got := m.Get(s.ID).Status; got != StatusComplete {
		t.Errorf("Status = %s, want %s", got, StatusComplete)
	}
}

func TestAddPage(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())

	if !m.AddPage(s.ID, &crawl.PageInfo{URL: "https://site.test/a", Title: "A"}) {
		t.Fatal("AddPage refused on a live session")
	}
	// Same page under a query variant: overwrites, no duplicate.
	m.AddPage(s.ID, &crawl.PageInfo{URL: "https://site.test/a?ref=x", Title: "A2"})
	m.AddPage(s.ID, &crawl.PageInfo{URL: "https://site.test/b", Title: "B"})

	pages := m.Pages(s.ID)
	if len(pages) != 2 {
		t.Fatalf("Pages() = %d entries, want 2", len(pages))
	}
	if pages[0].Title != "A2" {
		t.Errorf("re-added page title = %q, want last write %q", pages[0].Title, "A2")
	}
	if pages[1].URL != "https://site.test/b" {
		t.Errorf("insertion order broken: %v", pages)
	}

	p := m.Progress(s.ID)
	if p.Found != 2 || p.Crawled != 2 {
		t.Errorf("Progress = %+v, want found and crawled of 2", p)
	}
}

func TestAddPageRefusedAfterCancel(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())
	m.Cancel(s.ID)

	if m.AddPage(s.ID, &crawl.PageInfo{URL: "https://site.test/late"}) {
		t.Error("AddPage accepted a page after cancellation")
	}
	if m.AddScreenshot(s.ID, "https://site.test/late", "x.jpg") {
		t.Error("AddScreenshot accepted after cancellation")
	}
}

func TestProgressCountsScreenshots(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())
	m.AddPage(s.ID, &crawl.PageInfo{URL: "https://site.test/a"})
	m.AddScreenshot(s.ID, "https://site.test/a", "thumb.jpg")

	p := m.Progress(s.ID)
	if p.Screenshotted != 1 {
		t.Errorf("Screenshotted = %d, want 1", p.Screenshotted)
	}
}

func TestFindActiveByURL(t *testing.T) {
	m := newManager()
	active := m.Create(testCrawlConfig())
	done := m.Create(crawl.Config{URL: "https://other.test/"})
	m.SetStatus(done.ID, StatusComplete)

	if got := m.FindActiveByURL("https://site.test/"); got == nil || got.ID != active.ID {
		t.Error("FindActiveByURL missed the running session")
	}
	if got := m.FindActiveByURL("https://other.test/"); got != nil {
		t.Error("FindActiveByURL returned a completed session")
	}
	if got := m.FindActiveByURL("https://unknown.test/"); got != nil {
		t.Error("FindActiveByURL returned a session for an unknown URL")
	}
}

func TestSnapshotDetached(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())
	m.AddPage(s.ID, &crawl.PageInfo{URL: "https://site.test/a", Title: "A"})

	snap := m.Snapshot(s.ID)
	snap.Pages[crawl.Canonical("https://site.test/a")].Title = "mutated"
	snap.Errors = append(snap.Errors, "mutated")

	if got := m.Pages(s.ID)[0].Title; got != "A" {
		t.Errorf("snapshot mutation leaked into the live session: %q", got)
	}
	if len(m.Get(s.ID).Errors) != 0 {
		t.Error("snapshot error append leaked into the live session")
	}
}

func TestDelete(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())

	if m.Delete(s.ID) {
		t.Error("Delete succeeded on a running session")
	}
	m.SetStatus(s.ID, StatusComplete)
	if !m.Delete(s.ID) {
		t.Error("Delete refused on a completed session")
	}
	if m.Get(s.ID) != nil {
		t.Error("session still present after Delete")
	}
	if m.Delete(s.ID) {
		t.Error("second Delete should report false")
	}
}

func TestAddError(t *testing.T) {
	m := newManager()
	s := m.Create(testCrawlConfig())
	m.AddError(s.ID, "https://site.test/broken", errors.New("timeout"))

	errs := m.Get(s.ID).Errors
	if len(errs) != 1 {
		t.Fatalf("Errors = %v, want one entry", errs)
	}
}
