package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/events"
	"github.com/sitelens/sitelens/internal/logger"
	"github.com/sitelens/sitelens/internal/orchestrator"
	"github.com/sitelens/sitelens/internal/screenshot"
	"github.com/sitelens/sitelens/internal/session"
	"github.com/sitelens/sitelens/internal/sitecache"
	"github.com/sitelens/sitelens/internal/urlhash"
)

type stubFetcher struct {
	graph map[string][]string
}

func (f *stubFetcher) Fetch(_ context.Context, url string, depth int, parent string) (*crawl.PageInfo, error) {
	links, ok := f.graph[url]
	if !ok {
		return nil, errors.New("navigation failed")
	}
	return &crawl.PageInfo{URL: url, Title: "T:" + url, Depth: depth, ParentURL: parent, InternalLinks: links, StatusCode: 200}, nil
}

type stubShots struct {
	deleted []string
}

func (s *stubShots) Capture(_ context.Context, url string) screenshot.Result {
	return screenshot.Result{URL: url, Thumbnail: urlhash.ThumbFile(url), FullPage: urlhash.FullFile(url), Success: true}
}

func (s *stubShots) CaptureAll(ctx context.Context, urls []string, each func(screenshot.Result)) {
	for _, url := range urls {
		if ctx.Err() != nil {
			return
		}
		each(s.Capture(ctx, url))
	}
}

func (s *stubShots) DeleteByURLs(urls []string) int {
	s.deleted = append(s.deleted, urls...)
	return len(urls)
}

type stubCache struct{}

func (stubCache) LoadPreviousGraph(string) map[string]sitecache.CachedPage { return nil }
func (stubCache) LoadPreviousURLs(string) []string                        { return nil }
func (stubCache) LoadActiveFeedbackURLs(string) []string                  { return nil }
func (stubCache) SaveGraph(string, []*crawl.PageInfo, map[string]string) error {
	return nil
}

type testAPI struct {
	server   *Server
	sessions *session.Manager
	orch     *orchestrator.Orchestrator
	shots    *stubShots
}

func newTestAPI(t *testing.T, graph map[string][]string) *testAPI {
	t.Helper()
	sessions := session.NewManager(logger.Nop())
	shots := &stubShots{}
	orch := orchestrator.New(orchestrator.Deps{
		Sessions: sessions,
		NewFetcher: func(string, *crawl.BasicAuth) (orchestrator.Fetcher, error) {
			return &stubFetcher{graph: graph}, nil
		},
		Shots:      shots,
		Cache:      stubCache{},
		Sink:       events.NopSink{},
		Log:        logger.Nop(),
		FetchDelay: 1,
	})
	return &testAPI{
		server:   NewServer(orch, sessions, shots, nil, "", logger.Nop()),
		sessions: sessions,
		orch:     orch,
		shots:    shots,
	}
}

// runSession executes a crawl synchronously so handlers see a settled state.
func (a *testAPI) runSession(t *testing.T, cfg crawl.Config) string {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.Clamp()
	s := a.sessions.Create(cfg)
	a.orch.Run(context.Background(), s.ID)
	return s.ID
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func siteGraph() map[string][]string {
	return map[string][]string{
		"https://site.test/":      {"https://site.test/about", "https://site.test/blog"},
		"https://site.test/about": {"https://site.test/"},
		"https://site.test/blog":  nil,
	}
}

func TestSubmitEndpoint(t *testing.T) {
	a := newTestAPI(t, siteGraph())

	rec := a.do(t, http.MethodPost, "/api/crawls", crawl.Config{URL: "https://site.test/"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	id := resp["sessionId"]
	if id == "" {
		t.Fatal("no sessionId in response")
	}
	if a.sessions.Get(id) == nil {
		t.Error("submitted session not registered")
	}

	// The run is asynchronous; wait for it to settle before the test exits.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.sessions.Get(id).Status.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("session never reached a terminal state")
}

func TestSubmitEndpoint_Invalid(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/api/crawls", crawl.Config{URL: "ftp://site.test/"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/crawls", bytes.NewBufferString("{not json"))
	rec2 := httptest.NewRecorder()
	a.server.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed body", rec2.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	a := newTestAPI(t, siteGraph())
	id := a.runSession(t, crawl.Config{URL: "https://site.test/"})

	rec := a.do(t, http.MethodGet, "/api/crawls/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != session.StatusComplete {
		t.Errorf("Status = %s, want complete", resp.Status)
	}
	if resp.Progress.Crawled != 3 || resp.Progress.Screenshotted != 3 {
		t.Errorf("Progress = %+v", resp.Progress)
	}
	if resp.CompletedAt == nil {
		t.Error("CompletedAt missing on a finished session")
	}

	if rec := a.do(t, http.MethodGet, "/api/crawls/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestSitemapEndpoint(t *testing.T) {
	a := newTestAPI(t, siteGraph())
	id := a.runSession(t, crawl.Config{URL: "https://site.test/"})

	rec := a.do(t, http.MethodGet, "/api/crawls/"+id+"/sitemap", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp sitemapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if len(resp.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(resp.Nodes))
	}
	if resp.Nodes[0].Data.URL != "https://site.test/" || resp.Nodes[0].Data.Depth != 0 {
		t.Errorf("first node = %+v, want the root at depth 0", resp.Nodes[0].Data)
	}
	if resp.Nodes[0].Data.Thumbnail == "" {
		t.Error("node missing its thumbnail reference")
	}

	// root->about, root->blog, about->root. Self and out-of-set links drop.
	if len(resp.Edges) != 3 {
		t.Errorf("edges = %d, want 3: %+v", len(resp.Edges), resp.Edges)
	}
	seen := make(map[string]struct{})
	for _, e := range resp.Edges {
		key := e.Data.Source + "->" + e.Data.Target
		if _, dup := seen[key]; dup {
			t.Errorf("duplicate edge %s", key)
		}
		seen[key] = struct{}{}
	}
}

func TestCancelEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)
	s := a.sessions.Create(crawl.Config{URL: "https://site.test/"})

	rec := a.do(t, http.MethodPost, "/api/crawls/"+s.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := a.sessions.Get(s.ID).Status; got != session.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got)
	}

	// Cancelling a cancelled session is idempotent at the manager level but
	// the handler reports conflict once the session is terminal.
	if rec := a.do(t, http.MethodPost, "/api/crawls/unknown/cancel", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown cancel = %d, want 404", rec.Code)
	}
}

func TestDeleteSessionEndpoint(t *testing.T) {
	a := newTestAPI(t, siteGraph())
	id := a.runSession(t, crawl.Config{URL: "https://site.test/"})

	rec := a.do(t, http.MethodDelete, "/api/crawls/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if a.sessions.Get(id) != nil {
		t.Error("session still present after delete")
	}

	running := a.sessions.Create(crawl.Config{URL: "https://other.test/"})
	if rec := a.do(t, http.MethodDelete, "/api/crawls/"+running.ID, nil); rec.Code != http.StatusConflict {
		t.Errorf("delete of running session = %d, want 409", rec.Code)
	}
}

func TestDeleteScreenshotsEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodDelete, "/api/screenshots", map[string][]string{
		"urls": {"https://site.test/a", "https://site.test/b"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["deleted"] != 2 {
		t.Errorf("deleted = %d, want 2", resp["deleted"])
	}
	if len(a.shots.deleted) != 2 {
		t.Errorf("engine saw %v", a.shots.deleted)
	}

	if rec := a.do(t, http.MethodDelete, "/api/screenshots", map[string][]string{"urls": {}}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty urls = %d, want 400", rec.Code)
	}
}

func TestScreenshotFileServer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "abc.jpg"), []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	sessions := session.NewManager(logger.Nop())
	orch := orchestrator.New(orchestrator.Deps{Sessions: sessions, Shots: &stubShots{}, Sink: events.NopSink{}, Log: logger.Nop()})
	server := NewServer(orch, sessions, &stubShots{}, nil, dir, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/screenshots/abc.jpg", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "jpeg-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
