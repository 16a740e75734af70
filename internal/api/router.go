package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/verifyd/internal/pool"
)

// healthTimeout bounds the dependency check behind /healthz.
const healthTimeout = 2 * time.Second

// StatusSource reports the current pool status.
type StatusSource interface {
	Snapshot() pool.Status
}

// HealthCheck reports whether the backing stores are reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the status endpoints.
type Handler struct {
	status StatusSource
	health HealthCheck
	logger *slog.Logger
}

// NewHandler creates a status handler. health may be nil, in which case
// /healthz only reports that the process is up.
func NewHandler(status StatusSource, health HealthCheck, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{status: status, health: health, logger: logger.With(slog.String("component", "status_api"))}
}

// NewRouter mounts the status endpoints with the standard middleware chain.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.Status)

	return r
}

// Healthz answers 200 while the process is up and its stores respond.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.health(ctx); err != nil {
			respondWithError(w, r, h.logger, http.StatusServiceUnavailable, "store unavailable", err)
			return
		}
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// Status returns backlog, desired size and worker descriptors.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, h.status.Snapshot())
}

// requestLogger logs each request at DEBUG with its request ID.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
