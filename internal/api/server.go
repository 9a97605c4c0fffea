// Package api exposes the HTTP interface for the metadata service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fandomtools/ficbot/internal/fic"
	"github.com/fandomtools/ficbot/internal/metrics"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	enqueueTimeout   = 5 * time.Second
)

// Server wires HTTP handlers to the catalog and the scrape queue.
type Server struct {
	router chi.Router
	store  fic.WorkStore
	queue  fic.Queue
	clock  fic.Clock
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store fic.WorkStore, queue fic.Queue, clock fic.Clock, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		queue:  queue,
		clock:  clock,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/works", func(r chi.Router) {
			r.Post("/", s.submitWork)
			r.Get("/", s.listWorks)
			r.Get("/lookup", s.lookupWork)
			r.Delete("/lookup", s.deleteWork)
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
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The in-memory queue is always ready; the catalog surfaces its own
	// errors per request.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitWorkRequest struct {
	URL         string `json:"url"`
	RequestedBy string `json:"requested_by"`
}

func (s *Server) submitWork(w http.ResponseWriter, r *http.Request) {
	var req submitWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateWorkURL(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job := fic.ScrapeJob{
		ID:          uuid.NewString(),
		URL:         req.URL,
		RequestedBy: req.RequestedBy,
		Submitted:   s.clock.Now(),
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, fmt.Sprintf("enqueue job: %v", err))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) listWorks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if q := r.URL.Query().Get("q"); q != "" {
		recs, err := s.store.Search(r.Context(), q, limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "search failed")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"works": recs})
		return
	}
	offset := queryInt(r, "offset", 0)
	recs, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"works": recs})
}

func (s *Server) lookupWork(w http.ResponseWriter, r *http.Request) {
	workURL := r.URL.Query().Get("url")
	if workURL == "" {
		s.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	rec, err := s.store.GetByURL(r.Context(), workURL)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "work not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteWork(w http.ResponseWriter, r *http.Request) {
	workURL := r.URL.Query().Get("url")
	if workURL == "" {
		s.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	if err := s.store.Delete(r.Context(), workURL); err != nil {
		s.writeError(w, http.StatusNotFound, "work not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": workURL, "status": "deleted"})
}

func validateWorkURL(raw string) error {
	if raw == "" {
		return errors.New("url required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
