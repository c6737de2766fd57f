// Package server exposes analyses and the adjustment calculators over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bmds-online/bmds/internal/analysis"
	"github.com/bmds-online/bmds/internal/config"
	"github.com/bmds-online/bmds/internal/engine"
	"github.com/bmds-online/bmds/internal/health"
)

// maxBodyBytes bounds request bodies; exported analyses can be large.
const maxBodyBytes = 32 << 20

// Server holds the HTTP handlers' dependencies.
type Server struct {
	analyses *analysis.Service
	engine   engine.Engine
	worker   *health.Worker
	version  string
	cfg      config.ServerConfig
}

// New creates a Server. worker may be nil when runs execute inline.
func New(analyses *analysis.Service, eng engine.Engine, worker *health.Worker, cfg config.ServerConfig, version string) *Server {
	return &Server{
		analyses: analyses,
		engine:   eng,
		worker:   worker,
		version:  version,
		cfg:      cfg,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if s.cfg.RateLimit > 0 {
		r.Use(newIPLimiter(s.cfg.RateLimit, s.cfg.RateBurst, 10*time.Minute).Middleware)
	}
	r.Use(limitBody)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, `Method "`+r.Method+`" not allowed.`)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not found.")
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version/", s.wrap(s.handleVersion))
		r.Get("/healthcheck/worker/", s.wrap(s.handleWorkerHealth))

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/", s.wrap(s.handleList))
			r.Post("/", s.wrap(s.handleCreate))
			r.Post("/import/", s.wrap(s.handleImport))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.wrap(s.handleGet))
				r.Delete("/", s.wrap(s.handleDelete))
				r.Patch("/patch-inputs/", s.wrap(s.handlePatchInputs))
				r.Post("/execute/", s.wrap(s.keyed(s.analyses.Execute)))
				r.Post("/execute-reset/", s.wrap(s.keyed(s.analyses.ResetExecution)))
				r.Post("/select-model/", s.wrap(s.handleSelectModel))
				r.Post("/renew/", s.wrap(s.keyed(s.analyses.Renew)))
				r.Post("/star/", s.wrap(s.keyed(s.analyses.Star)))
				r.Get("/excel/", s.wrap(s.handleExcel))
			})
		})

		r.Post("/polyk/", s.wrap(s.handlePolyK))
		r.Post("/polyk/excel/", s.wrap(s.handlePolyKExcel))
		r.Post("/rao-scott/", s.wrap(s.handleRaoScott))
		r.Post("/rao-scott/excel/", s.wrap(s.handleRaoScottExcel))
	})

	return r
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
