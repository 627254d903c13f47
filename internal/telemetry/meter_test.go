package telemetry

import (
	"context"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

//nolint:paralleltest // NewMeterProvider sets the global meter provider
func TestNewMeterProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op when unconfigured", func(t *testing.T) {
		mp, err := NewMeterProvider(ctx)
		require.NoError(t, err)
		_, ok := mp.(noop.MeterProvider)
		assert.True(t, ok)
	})

	t.Run("no-op when disabled", func(t *testing.T) {
		mp, err := NewMeterProvider(ctx, WithMetricsConfig(&MetricsConfig{Enabled: false}))
		require.NoError(t, err)
		_, ok := mp.(noop.MeterProvider)
		assert.True(t, ok)
	})

	t.Run("otlp", func(t *testing.T) {
		mp, err := NewMeterProvider(ctx,
			WithMetricsConfig(&MetricsConfig{Enabled: true}),
			WithMeterInsecure(true),
		)
		require.NoError(t, err)
		sdkMP, ok := mp.(*sdkmetric.MeterProvider)
		require.True(t, ok)
		// No collector is running, so the final flush may fail
		_ = sdkMP.Shutdown(ctx)
	})

	t.Run("prometheus", func(t *testing.T) {
		reg := promclient.NewRegistry()
		mp, err := NewMeterProvider(ctx,
			WithMetricsConfig(&MetricsConfig{Enabled: true, Exporter: ExporterPrometheus}),
			WithPrometheusRegisterer(reg),
		)
		require.NoError(t, err)
		sdkMP, ok := mp.(*sdkmetric.MeterProvider)
		require.True(t, ok)
		defer func() { _ = sdkMP.Shutdown(ctx) }()

		m, err := NewLockMetrics(mp)
		require.NoError(t, err)
		m.RecordAcquire(ctx, "acquired")

		families, err := reg.Gather()
		require.NoError(t, err)
		var names []string
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "ocr_coord_lock_acquire_total")
	})
}
