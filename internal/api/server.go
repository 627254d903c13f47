// Package api assembles the coordinator's admin HTTP server.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ocrfarm/coordinator/internal/api/system"
	v1 "github.com/ocrfarm/coordinator/internal/api/v1"
	"github.com/ocrfarm/coordinator/internal/logger"
)

// ServerOption configures the admin API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	readiness      system.ReadinessChecker
	metricsHandler http.Handler
	routeOptions   []v1.Option
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithReadinessChecker sets the check behind /readiness.
func WithReadinessChecker(checker system.ReadinessChecker) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readiness = checker
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithRouteOptions passes options to the v1 routes.
func WithRouteOptions(opts ...v1.Option) ServerOption {
	return func(cfg *serverConfig) {
		cfg.routeOptions = append(cfg.routeOptions, opts...)
	}
}

// NewServer creates the admin router.
func NewServer(svc v1.Services, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", system.Router(cfg.readiness))
	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}
	r.Mount("/v1", v1.Router(svc, cfg.routeOptions...))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debugf("HTTP %s %s %d %s %s",
			r.Method,
			r.URL.Path,
			ww.Status(),
			time.Since(start),
			middleware.GetReqID(r.Context()),
		)
	})
}
