package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/common"
	"github.com/noah-isme/backend-pricing/internal/health"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/security"
)

// RouterConfig collects what NewRouter mounts.
type RouterConfig struct {
	Pricing     *Handler
	Health      health.Handler
	Logger      zerolog.Logger
	HTTPMetrics *obs.HTTPMetrics
	Metrics     http.Handler
	// Debug is mounted at /debug/pprof when set.
	Debug          http.Handler
	Tracing        bool
	AllowedOrigins []string
	// MaxBodyBytes caps request payloads; zero uses the decoder limit.
	MaxBodyBytes int64
	HSTS         bool
	// BatchGuards wrap the batch enqueue route, outermost first.
	BatchGuards []func(http.Handler) http.Handler
}

// NewRouter assembles the HTTP surface of the pricing service.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{EnableHSTS: cfg.HSTS}.Middleware)
	if cfg.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: cfg.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", common.IdempotencyHeader, obs.CustomerHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	} else if cfg.HTTPMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Debug != nil {
		r.Mount("/debug/pprof", cfg.Debug)
	}
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	h := cfg.Pricing
	if h == nil {
		h = &Handler{}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxBodyBytes
	}
	r.Route("/api/v1/pricing", func(p chi.Router) {
		p.Use(security.BodyLimit{Max: maxBody}.Middleware)
		p.Post("/calculate", h.Calculate)
		p.Get("/rules", h.ListRules)
		p.Post("/rules/preview", h.PreviewRule)
		p.With(cfg.BatchGuards...).Post("/batches", h.EnqueueBatch)
		p.Get("/batches/{id}", h.BatchStatus)
		p.Get("/outcomes/{id}/trail", h.Trail)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, common.CodeNotFound, "route not found", nil)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
