package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// CoordinatorMetricsMeterName is the name used for the work attempt meter
	CoordinatorMetricsMeterName = "github.com/ocrfarm/coordinator/coordinator"

	// LockMetricsMeterName is the name used for the lock manager meter
	LockMetricsMeterName = "github.com/ocrfarm/coordinator/lock"

	// QueueMetricsMeterName is the name used for the job queue meter
	QueueMetricsMeterName = "github.com/ocrfarm/coordinator/queue"
)

// CoordinatorMetrics holds the instruments for work attempts.
type CoordinatorMetrics struct {
	attemptsTotal     metric.Int64Counter
	executionDuration metric.Float64Histogram
	pausesTotal       metric.Int64Counter
}

// NewCoordinatorMetrics creates a new CoordinatorMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCoordinatorMetrics(provider metric.MeterProvider) (*CoordinatorMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CoordinatorMetricsMeterName)

	attemptsTotal, err := meter.Int64Counter(
		"ocr_coord_work_attempts_total",
		metric.WithDescription("Work attempts by decision and reason"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	executionDuration, err := meter.Float64Histogram(
		"ocr_coord_execution_duration_seconds",
		metric.WithDescription("Duration of executor runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		return nil, err
	}

	pausesTotal, err := meter.Int64Counter(
		"ocr_coord_profile_pauses_total",
		metric.WithDescription("Profiles paused after a rate limit"),
		metric.WithUnit("{pause}"),
	)
	if err != nil {
		return nil, err
	}

	return &CoordinatorMetrics{
		attemptsTotal:     attemptsTotal,
		executionDuration: executionDuration,
		pausesTotal:       pausesTotal,
	}, nil
}

// RecordAttempt counts one TryWork call.
func (m *CoordinatorMetrics) RecordAttempt(ctx context.Context, profileID, decision, reason string) {
	if m == nil || m.attemptsTotal == nil {
		return
	}

	m.attemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profileID),
		attribute.String("decision", decision),
		attribute.String("reason", reason),
	))
}

// RecordExecution records how long an executor run took and how it ended.
func (m *CoordinatorMetrics) RecordExecution(ctx context.Context, profileID, status string, duration time.Duration) {
	if m == nil || m.executionDuration == nil {
		return
	}

	m.executionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("profile", profileID),
		attribute.String("status", status),
	))
}

// RecordPause counts a profile pause.
func (m *CoordinatorMetrics) RecordPause(ctx context.Context, profileID string) {
	if m == nil || m.pausesTotal == nil {
		return
	}

	m.pausesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("profile", profileID)))
}

// LockMetrics holds the instruments for the lock manager.
type LockMetrics struct {
	acquireTotal metric.Int64Counter
	sweptTotal   metric.Int64Counter
	held         metric.Int64Gauge
}

// NewLockMetrics creates a new LockMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewLockMetrics(provider metric.MeterProvider) (*LockMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(LockMetricsMeterName)

	acquireTotal, err := meter.Int64Counter(
		"ocr_coord_lock_acquire_total",
		metric.WithDescription("Lock acquire attempts by result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	sweptTotal, err := meter.Int64Counter(
		"ocr_coord_lock_swept_total",
		metric.WithDescription("Stale locks removed by sweeps"),
		metric.WithUnit("{lock}"),
	)
	if err != nil {
		return nil, err
	}

	held, err := meter.Int64Gauge(
		"ocr_coord_locks_held",
		metric.WithDescription("Locks currently held"),
		metric.WithUnit("{lock}"),
	)
	if err != nil {
		return nil, err
	}

	return &LockMetrics{
		acquireTotal: acquireTotal,
		sweptTotal:   sweptTotal,
		held:         held,
	}, nil
}

// RecordAcquire counts an acquire attempt. result is one of acquired,
// contended or error.
func (m *LockMetrics) RecordAcquire(ctx context.Context, result string) {
	if m == nil || m.acquireTotal == nil {
		return
	}

	m.acquireTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSwept counts locks removed by a sweep.
func (m *LockMetrics) RecordSwept(ctx context.Context, count int) {
	if m == nil || m.sweptTotal == nil || count == 0 {
		return
	}

	m.sweptTotal.Add(ctx, int64(count))
}

// RecordHeld records the number of live locks.
func (m *LockMetrics) RecordHeld(ctx context.Context, count int64) {
	if m == nil || m.held == nil {
		return
	}

	m.held.Record(ctx, count)
}

// QueueMetrics holds the instruments for the job queue.
type QueueMetrics struct {
	claimsTotal      metric.Int64Counter
	transitionsTotal metric.Int64Counter
}

// NewQueueMetrics creates a new QueueMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewQueueMetrics(provider metric.MeterProvider) (*QueueMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(QueueMetricsMeterName)

	claimsTotal, err := meter.Int64Counter(
		"ocr_coord_job_claims_total",
		metric.WithDescription("Job claim attempts by result"),
		metric.WithUnit("{claim}"),
	)
	if err != nil {
		return nil, err
	}

	transitionsTotal, err := meter.Int64Counter(
		"ocr_coord_job_transitions_total",
		metric.WithDescription("Job state transitions by target state"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &QueueMetrics{
		claimsTotal:      claimsTotal,
		transitionsTotal: transitionsTotal,
	}, nil
}

// RecordClaim counts a claim attempt. result is one of claimed, empty or error.
func (m *QueueMetrics) RecordClaim(ctx context.Context, result string) {
	if m == nil || m.claimsTotal == nil {
		return
	}

	m.claimsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTransition counts a job moving into state.
func (m *QueueMetrics) RecordTransition(ctx context.Context, state string) {
	if m == nil || m.transitionsTotal == nil {
		return
	}

	m.transitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
