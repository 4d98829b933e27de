package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/logger"
)

// Manager owns every live session. All access is serialized through one
// mutex; sessions are small and mutations are cheap, so contention is not a
// concern at crawl scale.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *logger.Logger
}

// NewManager creates an empty session registry.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		log:      log.WithComponent("session"),
	}
}

// Create registers a new session in the crawling state and returns its ID.
func (m *Manager) Create(config crawl.Config) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		ID:          uuid.NewString(),
		Config:      config,
		Status:      StatusCrawling,
		Pages:       make(map[string]*crawl.PageInfo),
		Screenshots: make(map[string]string),
		StartedAt:   time.Now(),
	}
	m.sessions[s.ID] = s
	m.log.WithSession(s.ID).WithURL(config.URL).Info("session created")
	return s
}

// Get returns the live session for id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// FindActiveByURL returns a non-terminal session crawling the same root URL,
// if one exists. Used to collapse duplicate submissions.
func (m *Manager) FindActiveByURL(url string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Config.URL == url && !s.Status.Terminal() {
			return s
		}
	}
	return nil
}

// AddPage records a discovered page, keyed by canonical URL. Re-adding the
// same canonical URL overwrites the entry without duplicating it in the
// order. Pages are refused once the session is terminal or cancelled.
func (m *Manager) AddPage(id string, page *crawl.PageInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[id]
	if s == nil || s.Status.Terminal() || s.cancelled {
		return false
	}

	key := crawl.Canonical(page.URL)
	if _, seen := s.Pages[key]; !seen {
		s.pageOrder = append(s.pageOrder, key)
	}
	s.Pages[key] = page
	return true
}

// AddScreenshot records a captured thumbnail for a page URL.
func (m *Manager) AddScreenshot(id, url, thumbnail string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[id]
	if s == nil || s.Status.Terminal() || s.cancelled {
		return false
	}
	s.Screenshots[url] = thumbnail
	return true
}

// AddError appends a non-fatal per-page error to the session record.
func (m *Manager) AddError(id string, url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[id]
	if s == nil {
		return
	}
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", url, err))
}

// SetStatus transitions a session. Transitions out of a terminal state are
// refused, and a cancelled session can only be stamped cancelled. The first
// terminal transition records CompletedAt; later attempts leave it alone.
func (m *Manager) SetStatus(id string, status Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[id]
	if s == nil || s.Status.Terminal() {
		return false
	}
	if s.cancelled && status != StatusCancelled {
		return false
	}

	s.Status = status
	if status.Terminal() && s.CompletedAt == nil {
		now := time.Now()
		s.CompletedAt = &now
	}
	m.log.WithSession(id).Infof("session status: %s", status)
	return true
}

// Cancel flags a session for cooperative shutdown. Idempotent and sticky:
// once set, the flag survives any later status writes. The status flips to
// cancelled immediately so observers stop waiting on the run.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[id]
	if s == nil {
		return false
	}
	if s.cancelled {
		return true
	}
	if s.Status.Terminal() {
		return false
	}

	s.cancelled = true
	s.Status = StatusCancelled
	if s.CompletedAt == nil {
		now := time.Now()
		s.CompletedAt = &now
	}
	m.log.WithSession(id).Info("session cancelled")
	return true
}

// IsCancelled reports the sticky cancellation flag. Crawl loops poll this
// between pages.
func (m *Manager) IsCancelled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[id]
	return s == nil || s.cancelled
}

// Progress returns the current counters for a session.
func (m *Manager) Progress(id string) Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.sessions[id]
	if s == nil {
		return Progress{}
	}
	return Progress{
		Found:         len(s.Pages),
		Crawled:       len(s.Pages),
		Screenshotted: len(s.Screenshots),
	}
}

// Pages returns the session's pages in discovery order.
func (m *Manager) Pages(id string) []*crawl.PageInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.sessions[id]
	if s == nil {
		return nil
	}
	pages := make([]*crawl.PageInfo, 0, len(s.pageOrder))
	for _, key := range s.pageOrder {
		pages = append(pages, s.Pages[key])
	}
	return pages
}

// Snapshot returns a detached copy of the session safe for serialization.
func (m *Manager) Snapshot(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.sessions[id]
	if s == nil {
		return nil
	}

	copied := &Session{
		ID:          s.ID,
		Config:      s.Config,
		Status:      s.Status,
		Pages:       make(map[string]*crawl.PageInfo, len(s.Pages)),
		pageOrder:   append([]string(nil), s.pageOrder...),
		Screenshots: make(map[string]string, len(s.Screenshots)),
		Errors:      append([]string(nil), s.Errors...),
		StartedAt:   s.StartedAt,
		cancelled:   s.cancelled,
	}
	for k, v := range s.Pages {
		page := *v
		copied.Pages[k] = &page
	}
	for k, v := range s.Screenshots {
		copied.Screenshots[k] = v
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		copied.CompletedAt = &at
	}
	return copied
}

// Delete removes a session from the registry. Returns false if it did not
// exist or is still running.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[id]
	if s == nil || !s.Status.Terminal() {
		return false
	}
	delete(m.sessions, id)
	return true
}
