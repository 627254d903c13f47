package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

//nolint:paralleltest // New sets global providers
func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		tel, err := New(ctx, WithTelemetryConfig(&Config{Enabled: false}))
		require.NoError(t, err)
		assert.NotNil(t, tel.TracerProvider())
		assert.NotNil(t, tel.MeterProvider())
		assert.Nil(t, tel.MetricsHandler())
		require.NoError(t, tel.Shutdown(ctx))
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := New(ctx, WithTelemetryConfig(&Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: -1},
		}))
		require.ErrorContains(t, err, "invalid telemetry configuration")
	})

	t.Run("prometheus handler", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		tel, err := New(ctx,
			WithTelemetryConfig(&Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1},
				Metrics: &MetricsConfig{Enabled: true, Exporter: ExporterPrometheus},
			}),
			WithServiceVersion("2.1.0"),
			WithTraceExporter(exporter),
		)
		require.NoError(t, err)
		defer func() { _ = tel.Shutdown(ctx) }()

		m, err := NewQueueMetrics(tel.MeterProvider())
		require.NoError(t, err)
		m.RecordClaim(ctx, "claimed")

		_, span := tel.Tracer("test").Start(ctx, "claim")
		span.End()

		handler := tel.MetricsHandler()
		require.NotNil(t, handler)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "ocr_coord_job_claims_total")
		assert.Contains(t, rr.Body.String(), "go_goroutines")
	})
}
