package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ocrfarm/coordinator/internal/api"
	"github.com/ocrfarm/coordinator/internal/api/system"
	v1 "github.com/ocrfarm/coordinator/internal/api/v1"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/lock"
	"github.com/ocrfarm/coordinator/internal/maintenance"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/runs"
	"github.com/ocrfarm/coordinator/internal/telemetry"
	"github.com/ocrfarm/coordinator/internal/versions"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// CoordinatorAppOption is a function that configures the coordinator app builder
type CoordinatorAppOption func(*coordinatorAppConfig) error

// coordinatorAppConfig collects what NewCoordinatorApp needs. Components may
// be injected for testing; otherwise a pool is opened from the configuration.
type coordinatorAppConfig struct {
	config     *config.Config
	components *Components

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...CoordinatorAppOption) (*coordinatorAppConfig, error) {
	cfg := &coordinatorAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.address == "" {
		cfg.address = config.DefaultServerAddress
		if cfg.config != nil {
			cfg.address = cfg.config.Server.GetAddress()
		}
	}

	return cfg, nil
}

// NewCoordinatorApp builds the admin server and its maintenance loops.
func NewCoordinatorApp(
	ctx context.Context,
	opts ...CoordinatorAppOption,
) (*CoordinatorApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	cleanup := func() {}
	if cfg.components == nil {
		pool, err := db.NewPool(ctx, cfg.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup = pool.Close

		cfg.components, err = NewComponents(pool,
			WithComponentsTracerProvider(cfg.tracerProvider),
			WithComponentsMeterProvider(cfg.meterProvider),
		)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to build components: %w", err)
		}
	}

	httpServer, err := buildHTTPServer(cfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &CoordinatorApp{
		config:     cfg.config,
		components: cfg.components,
		httpServer: httpServer,
		loops:      buildMaintenanceLoops(cfg),
		ctx:        appCtx,
		cancelFunc: cancel,
		cleanup:    cleanup,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) CoordinatorAppOption {
	return func(cfg *coordinatorAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) CoordinatorAppOption {
	return func(cfg *coordinatorAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host, port := parts[0], parts[1]
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) CoordinatorAppOption {
	return func(cfg *coordinatorAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithComponents injects prebuilt stores instead of opening a pool.
func WithComponents(c *Components) CoordinatorAppOption {
	return func(cfg *coordinatorAppConfig) error {
		cfg.components = c
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP and store metrics
func WithMeterProvider(mp metric.MeterProvider) CoordinatorAppOption {
	return func(cfg *coordinatorAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for HTTP and store spans
func WithTracerProvider(tp trace.TracerProvider) CoordinatorAppOption {
	return func(cfg *coordinatorAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) CoordinatorAppOption {
	return func(cfg *coordinatorAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

func buildMaintenanceLoops(b *coordinatorAppConfig) []maintenance.Loop {
	threshold := b.config.Locks.GetStalenessThreshold()

	loops := []maintenance.Loop{
		maintenance.New(lock.NewSweeper(b.components.Locks, threshold), b.config.Locks.GetSweepInterval()),
		maintenance.New(profile.NewResumer(b.components.Profiles), b.config.Pause.GetResumeInterval()),
	}
	if retention := b.config.Retention.GetRunRecords(); retention > 0 {
		loops = append(loops,
			maintenance.New(runs.NewPruner(b.components.Runs, retention), b.config.Retention.GetInterval()))
	}
	slog.Info("Maintenance loops configured",
		"staleness_threshold", threshold,
		"sweep_interval", b.config.Locks.GetSweepInterval(),
		"resume_interval", b.config.Pause.GetResumeInterval(),
		"run_record_retention", b.config.Retention.GetRunRecords(),
	)
	return loops
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *coordinatorAppConfig) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Telemetry goes first so rejected and timed-out requests are counted too
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, b.middlewares...)
		slog.Info("HTTP metrics middleware enabled")
	}
	if b.tracerProvider != nil {
		b.middlewares = append([]func(http.Handler) http.Handler{
			telemetry.TracingMiddleware(b.tracerProvider),
		}, b.middlewares...)
		slog.Info("HTTP tracing middleware enabled")
	}

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
		api.WithRouteOptions(
			v1.WithClock(b.components.clock),
			v1.WithStalenessThreshold(b.config.Locks.GetStalenessThreshold()),
			v1.WithCurrentVersion(versions.GetVersionInfo().Version),
		),
	}
	if checker, ok := b.components.Pool.(system.ReadinessChecker); ok {
		serverOpts = append(serverOpts, api.WithReadinessChecker(checker))
	}

	router := api.NewServer(b.components.Services(), serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
