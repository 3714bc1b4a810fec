// Package api serves the granter admin HTTP API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/singleflight"

	"github.com/xraph/granter/badge"
	"github.com/xraph/granter/engine"
)

// API wires the admin handlers to an Engine and a badge Service.
type API struct {
	eng    *engine.Engine
	svc    *badge.Service
	logger *slog.Logger

	// fanOuts collapses concurrent grant-all requests into one fan-out.
	fanOuts singleflight.Group
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for handler errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API.
func New(eng *engine.Engine, svc *badge.Service, opts ...Option) *API {
	a := &API{eng: eng, svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the assembled router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/badges", func(r chi.Router) {
			r.Post("/grant-all", a.grantAll)
			r.Post("/{badgeId}/grant", a.grantBadge)
		})
		r.Get("/sweep", a.pendingSweeps)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", a.listJobs)
			r.Get("/counts", a.jobCounts)
			r.Get("/{jobId}", a.getJob)
		})

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", a.listDLQ)
			r.Get("/{entryId}", a.getDLQ)
			r.Post("/{entryId}/replay", a.replayDLQ)
		})
	})
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Runner().Store().Ping(r.Context()); err != nil {
		a.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
