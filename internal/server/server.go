// Package server exposes the feature engine over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sells-group/feature-cli/internal/features"
)

// Options configures the HTTP API.
type Options struct {
	// MaxBodyBytes caps request bodies. 0 means 32 MiB.
	MaxBodyBytes int64
	// RateLimit is requests per second across the server; 0 disables limiting.
	RateLimit float64
	RateBurst int
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
}

// Server routes requests to a features.Engine.
type Server struct {
	engine   *features.Engine
	opts     Options
	limiter  *rate.Limiter
	metrics  *metrics
	registry *prometheus.Registry
	validate *validator.Validate
	router   chi.Router
}

// New builds a Server with its own metrics registry.
func New(engine *features.Engine, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		engine:   engine,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  newMetrics(reg),
		registry: reg,
		validate: validator.New(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(middleware.Timeout(5 * time.Minute))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/features", s.handleFeatures)
		r.Post("/columns", s.handleColumns)
	})
	return r
}
