// Package api exposes the statistics service over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/training-stats/internal/config"
	"github.com/sells-group/training-stats/internal/institution"
	"github.com/sells-group/training-stats/internal/metrics"
	"github.com/sells-group/training-stats/internal/stats"
)

// Server holds the dependencies shared by the handlers.
type Server struct {
	svc   *stats.Service
	canon *institution.Canonicalizer
	cfg   config.ServerConfig
}

// Options configures NewRouter. Metrics and Registry may be nil, in which
// case instrumentation and /metrics are disabled.
type Options struct {
	Service       *stats.Service
	Canonicalizer *institution.Canonicalizer
	Server        config.ServerConfig
	Metrics       *metrics.Metrics
	Registry      *prometheus.Registry
}

// NewRouter builds the chi router with every route and middleware.
func NewRouter(opts Options) http.Handler {
	s := &Server{svc: opts.Service, canon: opts.Canonicalizer, cfg: opts.Server}
	if s.canon == nil {
		s.canon = institution.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(Instrument(opts.Metrics))
	}

	origins := opts.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Cache"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if opts.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if opts.Server.RateLimitRPS > 0 {
			r.Use(NewRateLimiter(opts.Server.RateLimitRPS, opts.Server.RateLimitBurst, opts.Metrics).Handler)
		}
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/stats/overview", s.handleOverview)
		r.Get("/stats/{dimension}", s.handleGroups)
		r.Get("/institutions/groups", s.handleInstitutionGroups)
		r.Get("/health-report", s.handleHealthReport)
		r.Post("/ingest", s.handleIngest)
		r.Delete("/cache", s.handleClearCache)
	})

	return r
}
