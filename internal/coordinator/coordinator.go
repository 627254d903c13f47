// Package coordinator runs single work attempts: check the profile pause,
// lease a unit, run the executor, record the outcome and release the lease.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/ocrfarm/coordinator/internal/alerts"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/otel"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/runs"
	"github.com/ocrfarm/coordinator/internal/telemetry"
)

// DefaultReleaseTimeout bounds the deferred lease release and the
// post-execution store writes.
const DefaultReleaseTimeout = 10 * time.Second

// ErrExecutorPanic wraps the value an executor panicked with.
var ErrExecutorPanic = errors.New("executor panicked")

// Error types stored on run records.
const (
	ErrorTypeTimeout         = "Timeout"
	ErrorTypeExecutorFailure = "ExecutorFailure"
	ErrorTypeRateLimited     = "RateLimited"
)

// Coordinator orchestrates work attempts for one worker identity.
type Coordinator struct {
	locker   Locker
	profiles ProfileStore
	recorder Recorder
	executor Executor
	alerter  Alerter

	ownerID          string
	workerHost       string
	workerPID        int
	workerVersion    string
	clock            clock.PassiveClock
	pauseBuffer      time.Duration
	fallbackPause    time.Duration
	executionTimeout time.Duration
	releaseTimeout   time.Duration

	tracer  trace.Tracer
	metrics *telemetry.CoordinatorMetrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithOwnerID sets the lease owner identity. Defaults to host/pid.
func WithOwnerID(id string) Option {
	return func(c *Coordinator) {
		c.ownerID = id
	}
}

// WithWorkerInfo sets the host, pid and build version stored on run records
// and heartbeats.
func WithWorkerInfo(host string, pid int, version string) Option {
	return func(c *Coordinator) {
		c.workerHost = host
		c.workerPID = pid
		c.workerVersion = version
	}
}

// WithClock sets the clock used to compute pause expiries.
func WithClock(cl clock.PassiveClock) Option {
	return func(c *Coordinator) {
		c.clock = cl
	}
}

// WithPausePolicy sets the buffer added to a reported reset time and the
// pause used when no reset time is reported.
func WithPausePolicy(buffer, fallback time.Duration) Option {
	return func(c *Coordinator) {
		c.pauseBuffer = buffer
		c.fallbackPause = fallback
	}
}

// WithExecutionTimeout bounds each executor call. Zero disables the bound.
func WithExecutionTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.executionTimeout = d
	}
}

// WithReleaseTimeout bounds the lease release and post-execution writes.
func WithReleaseTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.releaseTimeout = d
	}
}

// WithAlerter enables alerts for executor failures.
func WithAlerter(a Alerter) Option {
	return func(c *Coordinator) {
		c.alerter = a
	}
}

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

// WithMetrics sets the coordinator metrics. If not set, metrics are disabled.
func WithMetrics(m *telemetry.CoordinatorMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a Coordinator.
func New(locker Locker, profiles ProfileStore, recorder Recorder, executor Executor, opts ...Option) *Coordinator {
	host, _ := os.Hostname()
	c := &Coordinator{
		locker:         locker,
		profiles:       profiles,
		recorder:       recorder,
		executor:       executor,
		workerHost:     host,
		workerPID:      os.Getpid(),
		clock:          clock.RealClock{},
		pauseBuffer:    config.DefaultPauseBuffer,
		fallbackPause:  config.DefaultFallbackPause,
		releaseTimeout: DefaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ownerID == "" {
		c.ownerID = fmt.Sprintf("%s/%d", c.workerHost, c.workerPID)
	}
	return c
}

// OwnerID returns the lease owner identity of this coordinator.
func (c *Coordinator) OwnerID() string {
	return c.ownerID
}

// TryWork makes one work attempt for profileID on a unit from selector.
//
// A non-nil error is only returned when the store could not be reached; the
// outcome is then Denied(store_unavailable). Executor failures are reported
// in the outcome. Once a lease is acquired it is released on every exit path.
// A panicking executor is recorded as ERROR and alerted before the panic
// propagates.
func (c *Coordinator) TryWork(ctx context.Context, profileID string, selector Selector) (out *Outcome, err error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "coordinator.TryWork",
		trace.WithAttributes(otel.AttrProfileID.String(profileID), otel.AttrOwnerID.String(c.ownerID)))
	defer span.End()
	defer func() {
		if out == nil {
			return
		}
		span.SetAttributes(otel.AttrDecision.String(string(out.Decision)), otel.AttrReason.String(string(out.Reason)))
		c.metrics.RecordAttempt(ctx, profileID, string(out.Decision), string(out.Reason))
	}()

	state, err := c.profiles.GetState(ctx, profileID)
	if err != nil {
		otel.RecordError(span, err)
		return denied(ReasonStoreUnavailable), fmt.Errorf("failed to read profile state: %w", err)
	}
	now := c.clock.Now()
	if state.EffectivePaused(now) {
		out := denied(ReasonRateLimited)
		out.PauseUntil = state.PauseUntil
		out.RetryAfter = state.RetryAfter(now)
		slog.DebugContext(ctx, "Profile paused, not working", "profile_id", profileID, "until", state.PauseUntil)
		return out, nil
	}

	unit, ok, err := selector.Next(ctx)
	if err != nil {
		return denied(ReasonNoCandidate), fmt.Errorf("failed to select candidate: %w", err)
	}
	if !ok {
		return denied(ReasonNoCandidate), nil
	}
	span.SetAttributes(otel.AttrUnitID.String(unit.ID))

	acquired, err := c.locker.Acquire(ctx, unit.ID, c.ownerID)
	if err != nil {
		otel.RecordError(span, err)
		out := denied(ReasonStoreUnavailable)
		out.Unit = &unit
		return out, fmt.Errorf("failed to acquire %s: %w", unit.ID, err)
	}
	if !acquired.Acquired {
		out := denied(ReasonAlreadyLocked)
		out.Unit = &unit
		out.Holder = acquired.Holder
		return out, nil
	}
	defer c.release(ctx, unit.ID)

	return c.execute(ctx, profileID, unit), nil
}

func (c *Coordinator) release(ctx context.Context, unitID string) {
	rctx, cancel := c.detached(ctx)
	defer cancel()
	if _, err := c.locker.Release(rctx, unitID, c.ownerID); err != nil {
		slog.ErrorContext(ctx, "Failed to release lock, it will be swept",
			"unit_id", unitID, "owner_id", c.ownerID, "error", err)
	}
}

// detached returns a context that survives cancellation of ctx, bounded by
// the release timeout.
func (c *Coordinator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
}

func (c *Coordinator) execute(ctx context.Context, profileID string, unit Unit) *Outcome {
	hb := profile.Heartbeat{WorkerPID: c.workerPID, Action: "processing " + unit.ID}
	if c.workerVersion != "" {
		hb.Metadata = map[string]any{profile.MetadataWorkerVersion: c.workerVersion}
	}
	if err := c.profiles.Heartbeat(ctx, profileID, hb); err != nil {
		slog.WarnContext(ctx, "Failed to record heartbeat", "profile_id", profileID, "error", err)
	}

	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.executionTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, c.executionTimeout)
	}
	started := c.clock.Now()
	result, panicked, execErr := c.invoke(execCtx, unit)
	timedOut := errors.Is(execErr, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded)
	cancel()
	ended := c.clock.Now()

	out := &Outcome{
		Decision: DecisionProceeded,
		Unit:     &unit,
		Result:   &result,
		ExecErr:  execErr,
		Status:   statusOf(result, execErr, timedOut),
	}
	c.metrics.RecordExecution(ctx, profileID, out.Status, ended.Sub(started))

	wctx, wcancel := c.detached(ctx)
	defer wcancel()

	if execErr == nil && result.RateLimited {
		until := c.pauseUntil(result, ended)
		out.PauseUntil = &until
		if err := c.profiles.SetPause(wctx, profileID, until, profile.ReasonRateLimit); err != nil {
			slog.ErrorContext(ctx, "Failed to pause rate limited profile", "profile_id", profileID, "error", err)
		} else {
			c.metrics.RecordPause(ctx, profileID)
		}
	}

	rec := c.buildRecord(profileID, unit, result, execErr, out.Status, started, ended)
	if id, err := c.recorder.Record(wctx, rec); err != nil {
		slog.ErrorContext(ctx, "Failed to record run", "profile_id", profileID, "unit_id", unit.ID, "error", err)
	} else {
		out.RecordID = id
	}

	if execErr != nil {
		slog.WarnContext(ctx, "Executor failed", "profile_id", profileID, "unit_id", unit.ID,
			"status", out.Status, "error", execErr)
		c.raiseAlert(wctx, profileID, unit, out.Status, execErr)
	} else {
		slog.InfoContext(ctx, "Unit processed", "profile_id", profileID, "unit_id", unit.ID,
			"status", out.Status, "duration", ended.Sub(started))
	}

	// The outcome is recorded; hand the panic back to the caller.
	if panicked != nil {
		panic(panicked)
	}
	return out
}

// invoke runs the executor and turns a panic into an ErrExecutorPanic error,
// returning the recovered value so the caller can re-panic once the outcome
// is stored.
func (c *Coordinator) invoke(ctx context.Context, unit Unit) (result Result, panicked any, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
			result = Result{}
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()
	result, err = c.executor.Execute(ctx, unit)
	return result, nil, err
}

func (c *Coordinator) pauseUntil(result Result, now time.Time) time.Time {
	if result.ResetAt != nil && result.ResetAt.After(now) {
		return result.ResetAt.Add(c.pauseBuffer)
	}
	return now.Add(c.fallbackPause)
}

func statusOf(result Result, execErr error, timedOut bool) string {
	switch {
	case timedOut:
		return runs.StatusTimeout
	case execErr != nil:
		return runs.StatusError
	case result.RateLimited:
		return runs.StatusLimit
	case result.Status != "":
		return result.Status
	default:
		return runs.StatusOK
	}
}

func (c *Coordinator) buildRecord(
	profileID string, unit Unit, result Result, execErr error, status string, started, ended time.Time,
) runs.Record {
	rec := runs.Record{
		FileName:  &unit.ID,
		ProfileID: &profileID,
		Status:    &status,
		Timings:   result.Timings,
		StartedAt: &started,
		EndedAt:   &ended,
		WorkerPID: &c.workerPID,
		Usage:     result.Usage,
	}
	if unit.BatchID != "" {
		rec.BatchID = &unit.BatchID
	}
	if c.workerHost != "" {
		rec.WorkerHost = &c.workerHost
	}
	if result.ArtifactRef != "" {
		rec.ArtifactRef = &result.ArtifactRef
	}

	errorType, detail := result.ErrorType, result.Error
	switch {
	case status == runs.StatusTimeout:
		errorType = ErrorTypeTimeout
	case execErr != nil:
		errorType = ErrorTypeExecutorFailure
	case result.RateLimited && errorType == "":
		errorType = ErrorTypeRateLimited
	}
	if execErr != nil {
		detail = execErr.Error()
	}
	if errorType != "" {
		rec.ErrorType = &errorType
	}
	if detail != "" {
		rec.ErrorDetail = &detail
	}
	return rec
}

func (c *Coordinator) raiseAlert(ctx context.Context, profileID string, unit Unit, status string, execErr error) {
	if c.alerter == nil {
		return
	}
	_, err := c.alerter.Raise(ctx, alerts.Alert{
		ProfileID:      profileID,
		Kind:           alerts.KindExecutorFailure,
		Message:        fmt.Sprintf("executor failed on %s: %v", unit.ID, execErr),
		RequiresAction: status == runs.StatusTimeout,
		Metadata: map[string]any{
			"unit_id":  unit.ID,
			"status":   status,
			"owner_id": c.ownerID,
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to raise alert", "profile_id", profileID, "error", err)
	}
}
