package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ocrfarm/coordinator/internal/config"
)

// lazyPool returns a pool that never dials until a query runs.
func lazyPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), "postgres://ocr@127.0.0.1:1/ocrfarm?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func testComponents(t *testing.T) *Components {
	t.Helper()

	c, err := NewComponents(lazyPool(t))
	require.NoError(t, err)
	return c
}

// createValidTestConfig creates a minimal valid config for testing
func createValidTestConfig() *config.Config {
	return &config.Config{
		Database: &config.DatabaseConfig{Host: "localhost", Port: 5432, User: "ocr", Database: "ocrfarm"},
		Worker: &config.WorkerConfig{
			ProfileID: "gemini-1",
			BatchID:   "batch-7",
			SourceDir: "/srv/ocr/in",
			Command:   []string{"/usr/local/bin/ocr-run"},
		},
	}
}

func TestBaseConfig(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(createValidTestConfig()))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultServerAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)

	cfg := createValidTestConfig()
	cfg.Server = &config.ServerConfig{Address: "127.0.0.1:9191"}
	built, err = baseConfig(WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9191", built.address)

	built, err = baseConfig(WithConfig(cfg), WithAddress(":8888"))
	require.NoError(t, err)
	assert.Equal(t, ":8888", built.address, "explicit address wins over config")

	built, err = baseConfig(WithConfig(cfg), WithAddress(":"))
	require.Error(t, err)
	require.Nil(t, built)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{name: "valid address", address: ":9999", want: ":9999"},
		{name: "valid address with host", address: "127.0.0.1:9999", want: "127.0.0.1:9999"},
		{name: "valid address with host and port", address: "localhost:9999", want: "localhost:9999"},
		{name: "invalid empty address", address: "", wantErr: true},
		{name: "invalid empty port", address: ":", wantErr: true},
		{name: "invalid missing port", address: "localhost", wantErr: true},
		{name: "invalid address with host and port", address: "localhost:999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &coordinatorAppConfig{}
			err := WithAddress(tt.address)(cfg)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.address)
		})
	}
}

func TestWithMiddlewares(t *testing.T) {
	t.Parallel()
	cfg := &coordinatorAppConfig{}
	middleware1 := func(next http.Handler) http.Handler { return next }
	middleware2 := func(next http.Handler) http.Handler { return next }

	require.NoError(t, WithMiddlewares(middleware1, middleware2)(cfg))
	assert.Len(t, cfg.middlewares, 2)
}

func TestNewCoordinatorApp_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCoordinatorApp(context.Background())
	require.ErrorContains(t, err, "config cannot be nil")
}

func TestNewCoordinatorApp_WithComponents(t *testing.T) {
	t.Parallel()

	components := testComponents(t)
	a, err := NewCoordinatorApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithComponents(components),
		WithAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)

	assert.Same(t, components, a.GetComponents())
	assert.Equal(t, "127.0.0.1:0", a.GetHTTPServer().Addr)
	assert.Len(t, a.loops, 2)

	rec := httptest.NewRecorder()
	a.GetHTTPServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// /metrics is only mounted when a handler is supplied.
	rec = httptest.NewRecorder()
	a.GetHTTPServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewCoordinatorApp_ReadinessUsesPool(t *testing.T) {
	t.Parallel()

	a, err := NewCoordinatorApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithComponents(testComponents(t)),
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.GetHTTPServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "nothing listens on the pool address")
}

func TestNewCoordinatorApp_TelemetryMiddleware(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})

	a, err := NewCoordinatorApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithComponents(testComponents(t)),
		WithMeterProvider(mp),
		WithMetricsHandler(metricsHandler),
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.GetHTTPServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics\n", rec.Body.String())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics, "HTTP metrics middleware should have recorded the request")
}

func TestNewComponents(t *testing.T) {
	t.Parallel()

	_, err := NewComponents(nil)
	require.ErrorContains(t, err, "database pool is required")

	c := testComponents(t)
	svc := c.Services()
	assert.Equal(t, c.Profiles, svc.Profiles)
	assert.Equal(t, c.Locks, svc.Locks)
	assert.Equal(t, c.Queue, svc.Jobs)
	assert.Equal(t, c.Runs, svc.Runs)
	assert.Equal(t, c.Alerts, svc.Alerts)
}

func TestNewWorkers(t *testing.T) {
	t.Parallel()

	c := testComponents(t)

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		queue   bool
		wantErr string
	}{
		{name: "file worker"},
		{name: "queue worker", queue: true},
		{
			name:    "missing worker section",
			mutate:  func(cfg *config.Config) { cfg.Worker = nil },
			wantErr: "worker configuration is required",
		},
		{
			name:    "missing profile",
			mutate:  func(cfg *config.Config) { cfg.Worker.ProfileID = "" },
			wantErr: "worker.profileId is required",
		},
		{
			name:    "missing command",
			mutate:  func(cfg *config.Config) { cfg.Worker.Command = nil },
			queue:   true,
			wantErr: "worker.command is required",
		},
		{
			name:    "file mode needs source dir",
			mutate:  func(cfg *config.Config) { cfg.Worker.SourceDir = "" },
			wantErr: "worker.sourceDir is required",
		},
		{
			name:   "queue mode ignores source dir",
			mutate: func(cfg *config.Config) { cfg.Worker.SourceDir = "" },
			queue:  true,
		},
		{
			name:    "bad include pattern",
			mutate:  func(cfg *config.Config) { cfg.Worker.Include = []string{"page_[.jpg"} },
			wantErr: "invalid file filter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := createValidTestConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			var (
				w   any
				err error
			)
			if tt.queue {
				w, err = c.NewQueueWorker(cfg, true)
			} else {
				w, err = c.NewFileWorker(cfg, true)
			}

			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, w)
		})
	}
}
