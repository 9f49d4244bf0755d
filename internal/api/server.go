// Package api exposes the HTTP interface for the roast service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/pipeline"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router   chi.Router
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(p *pipeline.Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pipeline: p,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/roasts", func(r chi.Router) {
			r.Post("/", s.submitRoast)
			r.Get("/top", s.topRoasts)
			r.Get("/{roast_id}", s.getRoast)
		})
		r.Get("/stats/cache", s.cacheStats)
		r.Post("/cache/invalidate", s.invalidateCache)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Healthy(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "cache backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"forceRefresh"`
}

func (s *Server) submitRoast(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}

	sub, err := s.pipeline.Submit(r.Context(), req.URL, req.ForceRefresh)
	switch {
	case errors.Is(err, roast.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, pipeline.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many submissions, slow down")
		return
	case err != nil:
		s.logger.Error("submit failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	status := http.StatusAccepted
	if sub.Cached {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"roast":  sub.Record,
		"cached": sub.Cached,
	})
}

func (s *Server) getRoast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roast_id")
	rec, err := s.pipeline.Get(r.Context(), id)
	if errors.Is(err, roast.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "roast not found")
		return
	}
	if err != nil {
		s.logger.Error("load roast failed", zap.String("roast_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load roast")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roast": rec})
}

func (s *Server) topRoasts(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = parsed
	}
	records, err := s.pipeline.TopScores(r.Context(), limit)
	if err != nil {
		s.logger.Error("top scores failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list top roasts")
		return
	}
	if records == nil {
		records = []*roast.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roasts": records})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pipeline.CacheStats(r.Context())
	if err != nil {
		s.logger.Error("cache stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Invalidate(r.Context()); err != nil {
		s.logger.Error("cache invalidation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to invalidate cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
