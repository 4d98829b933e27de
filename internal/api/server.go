// Package api is the HTTP front door: crawl submission, session status, the
// sitemap graph, screenshot serving and the live WebSocket stream.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/logger"
	"github.com/sitelens/sitelens/internal/orchestrator"
	"github.com/sitelens/sitelens/internal/session"
)

// Server routes HTTP traffic to the crawl pipeline.
type Server struct {
	router   chi.Router
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	shots    orchestrator.Screenshotter
	ws       http.HandlerFunc
	shotsDir string
	log      *logger.Logger
}

// NewServer wires the routes. ws handles WebSocket upgrades; shotsDir is
// served read-only under /screenshots/.
func NewServer(orch *orchestrator.Orchestrator, sessions *session.Manager, shots orchestrator.Screenshotter, ws http.HandlerFunc, shotsDir string, log *logger.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		orch:     orch,
		sessions: sessions,
		shots:    shots,
		ws:       ws,
		shotsDir: shotsDir,
		log:      log.WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/crawls", s.handleSubmit)
		r.Route("/crawls/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Get("/sitemap", s.handleSitemap)
			r.Post("/cancel", s.handleCancel)
			r.Delete("/", s.handleDelete)
		})
		r.Delete("/screenshots", s.handleDeleteScreenshots)
	})

	if s.ws != nil {
		s.router.Get("/ws", s.ws)
	}
	if s.shotsDir != "" {
		s.router.Handle("/screenshots/*", http.StripPrefix("/screenshots/", http.FileServer(http.Dir(s.shotsDir))))
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var cfg crawl.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	id, err := s.orch.Submit(r.Context(), cfg)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id})
}

// statusResponse is the session snapshot shape.
type statusResponse struct {
	SessionID   string           `json:"sessionId"`
	URL         string           `json:"url"`
	Status      session.Status   `json:"status"`
	Progress    session.Progress `json:"progress"`
	Errors      []string         `json:"errors,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := s.sessions.Snapshot(id)
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		SessionID:   snap.ID,
		URL:         snap.Config.URL,
		Status:      snap.Status,
		Progress:    s.sessions.Progress(id),
		Errors:      snap.Errors,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.sessions.Get(id) == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if !s.sessions.Cancel(id) {
		s.writeError(w, http.StatusConflict, "session already finished")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(session.StatusCancelled)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.sessions.Get(id) == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if !s.sessions.Delete(id) {
		s.writeError(w, http.StatusConflict, "session is still running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteScreenshots(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(body.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "no urls given")
		return
	}

	deleted := s.shots.DeleteByURLs(body.URLs)
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
