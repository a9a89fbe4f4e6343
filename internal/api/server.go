// SPDX-License-Identifier: MIT

// Package api exposes the portal's HTTP surface: video upload and
// processing, job status, downloads and a few small system endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/watchthefall/portal/internal/assets"
	"github.com/watchthefall/portal/internal/config"
	"github.com/watchthefall/portal/internal/fetch"
	"github.com/watchthefall/portal/internal/jobs"
	"github.com/watchthefall/portal/internal/store"
)

// Server wires the HTTP handlers to the job manager and its collaborators.
type Server struct {
	cfg      config.Config
	manager  *jobs.Manager
	store    store.Store
	resolver *assets.Resolver
	fetcher  *fetch.Fetcher
}

// New constructs a Server. The fetcher may be nil, in which case the
// remote fetch endpoint reports the feature as unavailable.
func New(cfg config.Config, m *jobs.Manager, st store.Store, res *assets.Resolver, f *fetch.Fetcher) *Server {
	return &Server{
		cfg:      cfg,
		manager:  m,
		store:    st,
		resolver: res,
		fetcher:  f,
	}
}

// Router assembles the chi router with middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(tracing("portald"))
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(httprate.Limit(
		120, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		}),
	))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/videos", func(r chi.Router) {
			r.Post("/upload", s.handleUpload)
			r.Post("/process", s.handleProcess)
			r.Get("/status/{jobID}", s.handleStatus)
			r.Get("/download/{filename}", s.handleDownload)
			r.Get("/recent", s.handleRecent)
			r.Post("/fetch", s.handleFetch)
		})

		r.Get("/templates", s.handleTemplates)

		r.Route("/system", func(r chi.Router) {
			r.Get("/logs", s.handleLogs)
			r.Get("/queue", s.handleQueue)
		})
	})

	return r
}
