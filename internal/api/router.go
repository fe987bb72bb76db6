package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reqtrace/engine/internal/api/handlers"
	mw "github.com/reqtrace/engine/internal/api/middleware"
)

type Dependencies struct {
	HealthHandler       *handlers.HealthHandler
	HierarchyHandler    *handlers.HierarchyHandler
	RequirementsHandler *handlers.RequirementsHandler
	DashboardHandler    *handlers.DashboardHandler

	RateLimiter    *mw.RateLimiter
	AllowedOrigins []string
	// RequestTimeout bounds each /api/v1 request; zero disables it.
	RequestTimeout time.Duration
	// MetricsHandler defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.Metrics)
	r.Use(mw.CORS(dep.AllowedOrigins))
	if dep.RateLimiter != nil {
		r.Use(dep.RateLimiter.Handler)
	}
	r.Use(chimid.Compress(5))

	// Health endpoints
	r.Get("/healthz", dep.HealthHandler.Liveness)
	r.Get("/readyz", dep.HealthHandler.Readiness)

	metricsHandler := dep.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		if dep.RequestTimeout > 0 {
			api.Use(chimid.Timeout(dep.RequestTimeout))
		}
		api.Use(mw.Actor)

		dep.HierarchyHandler.Routes(api)
		dep.RequirementsHandler.Routes(api)
		api.Get("/dashboard/stats", dep.DashboardHandler.Stats)
	})

	return r
}
