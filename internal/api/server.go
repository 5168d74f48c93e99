// Package api exposes the HTTP control interface for the harvester service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jobmarket-tools/harvester/internal/harvest"
)

// SourceManager is the slice of harvest.Manager the handlers need.
type SourceManager interface {
	Start(name string, interval time.Duration) error
	Stop(name string)
	Status(name string) harvest.Status
	List() []string
}

// Server wires HTTP handlers to the source manager.
type Server struct {
	router    chi.Router
	manager   SourceManager
	intervals map[string]time.Duration
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The intervals map
// supplies the configured cadence per source, used when a start request does
// not override it.
func NewServer(manager SourceManager, intervals map[string]time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager:   manager,
		intervals: intervals,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/status", s.sourceStatus)
				r.Post("/start", s.startSource)
				r.Post("/stop", s.stopSource)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sourceView struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	names := s.manager.List()
	sources := make([]sourceView, 0, len(names))
	for _, name := range names {
		sources = append(sources, sourceView{
			Name:   name,
			Status: string(s.manager.Status(name)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) sourceStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status := s.manager.Status(name)
	if status == harvest.StatusNotRegistered {
		writeError(w, http.StatusNotFound, "source not registered")
		return
	}
	writeJSON(w, http.StatusOK, sourceView{Name: name, Status: string(status)})
}

type startRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (s *Server) startSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.manager.Status(name) == harvest.StatusNotRegistered {
		writeError(w, http.StatusNotFound, "source not registered")
		return
	}

	interval := s.intervals[name]
	if r.Body != nil && r.ContentLength != 0 {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.IntervalSeconds > 0 {
			interval = time.Duration(req.IntervalSeconds) * time.Second
		}
	}

	if err := s.manager.Start(name, interval); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, sourceView{
		Name:   name,
		Status: string(s.manager.Status(name)),
	})
}

func (s *Server) stopSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.manager.Status(name) == harvest.StatusNotRegistered {
		writeError(w, http.StatusNotFound, "source not registered")
		return
	}
	s.manager.Stop(name)
	writeJSON(w, http.StatusOK, sourceView{
		Name:   name,
		Status: string(s.manager.Status(name)),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
