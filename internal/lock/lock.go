// Package lock implements leases on work units backed by the locks table.
//
// Every mutating operation is a single statement; the primary key on
// unit_id is the only mutual exclusion, so concurrent workers on different
// hosts need no coordination beyond the database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/db/sqlc"
	"github.com/ocrfarm/coordinator/internal/otel"
	"github.com/ocrfarm/coordinator/internal/telemetry"
)

// ErrInvalidArgument is returned for empty unit or owner identifiers.
var ErrInvalidArgument = errors.New("invalid lock argument")

// Lock is a live lease on a work unit.
type Lock struct {
	UnitID     string    `json:"unit_id"`
	OwnerID    string    `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AcquireResult is the outcome of an Acquire call. When Acquired is false the
// unit is held elsewhere and Holder describes the holder if it could be read.
type AcquireResult struct {
	Acquired bool
	Lock     Lock
	Holder   *Lock
}

// Manager grants and releases leases.
type Manager struct {
	queries *sqlc.Queries
	clock   clock.PassiveClock
	tracer  trace.Tracer
	metrics *telemetry.LockMetrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for acquired_at and sweep cutoffs. Without
// one both come from the database clock, so host clock skew cannot make a
// live lease look stale.
func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithMetrics sets the lock metrics.
func WithMetrics(metrics *telemetry.LockMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a lock manager on top of the given connection or pool.
func NewManager(conn sqlc.DBTX, opts ...Option) *Manager {
	m := &Manager{
		queries: sqlc.New(conn),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire tries to take the lease on unitID for ownerID. Contention is not an
// error: it yields Acquired == false. On a store error the result is also not
// acquired, so callers that ignore the error still fail closed.
func (m *Manager) Acquire(ctx context.Context, unitID, ownerID string) (AcquireResult, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lock.Acquire",
		trace.WithAttributes(otel.AttrUnitID.String(unitID), otel.AttrOwnerID.String(ownerID)))
	defer span.End()

	if unitID == "" || ownerID == "" {
		return AcquireResult{}, fmt.Errorf("%w: unit and owner are required", ErrInvalidArgument)
	}

	acquiredAt, err := m.queries.AcquireLock(ctx, sqlc.AcquireLockParams{
		UnitID:  unitID,
		OwnerID: ownerID,
		Now:     db.Timestamp(m.clock),
	})
	if err == nil {
		m.metrics.RecordAcquire(ctx, "acquired")
		return AcquireResult{
			Acquired: true,
			Lock:     Lock{UnitID: unitID, OwnerID: ownerID, AcquiredAt: acquiredAt.UTC()},
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		otel.RecordError(span, err)
		m.metrics.RecordAcquire(ctx, "error")
		return AcquireResult{}, fmt.Errorf("failed to acquire lock on %s: %w", unitID, db.Classify(err))
	}

	m.metrics.RecordAcquire(ctx, "contended")
	result := AcquireResult{}
	// The holder is informational; it may already be gone by now.
	holder, err := m.queries.GetLock(ctx, unitID)
	if err == nil {
		h := fromRow(holder)
		result.Holder = &h
	} else if !errors.Is(err, pgx.ErrNoRows) {
		slog.DebugContext(ctx, "Failed to read lock holder", "unit_id", unitID, "error", err)
	}
	return result, nil
}

// Release drops the lease on unitID if ownerID holds it. Releasing a lease
// that is not held, or is held by someone else, is a no-op that returns
// false and logs a warning.
func (m *Manager) Release(ctx context.Context, unitID, ownerID string) (bool, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lock.Release",
		trace.WithAttributes(otel.AttrUnitID.String(unitID), otel.AttrOwnerID.String(ownerID)))
	defer span.End()

	rows, err := m.queries.ReleaseLock(ctx, sqlc.ReleaseLockParams{UnitID: unitID, OwnerID: ownerID})
	if err != nil {
		otel.RecordError(span, err)
		return false, fmt.Errorf("failed to release lock on %s: %w", unitID, db.Classify(err))
	}
	if rows == 0 {
		slog.WarnContext(ctx, "Released lock that was not held by owner",
			"unit_id", unitID, "owner_id", ownerID)
		return false, nil
	}
	return true, nil
}

// ReleaseAll drops every lease held by ownerID and returns the released units.
func (m *Manager) ReleaseAll(ctx context.Context, ownerID string) ([]string, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lock.ReleaseAll",
		trace.WithAttributes(otel.AttrOwnerID.String(ownerID)))
	defer span.End()

	units, err := m.queries.ReleaseOwnerLocks(ctx, ownerID)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to release locks of %s: %w", ownerID, db.Classify(err))
	}
	if len(units) > 0 {
		slog.InfoContext(ctx, "Released all locks of owner", "owner_id", ownerID, "count", len(units))
	}
	return units, nil
}

// Sweep removes locks whose age is at least threshold, measured against the
// database clock unless a clock was injected, and returns how many were
// removed. It is idempotent and safe to run from several hosts at once.
func (m *Manager) Sweep(ctx context.Context, threshold time.Duration) (int, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "lock.Sweep")
	defer span.End()

	if threshold <= 0 {
		return 0, fmt.Errorf("%w: staleness threshold must be positive", ErrInvalidArgument)
	}

	swept, err := m.queries.SweepStaleLocks(ctx, sqlc.SweepStaleLocksParams{
		Now:              db.Timestamp(m.clock),
		ThresholdSeconds: threshold.Seconds(),
	})
	if err != nil {
		otel.RecordError(span, err)
		return 0, fmt.Errorf("failed to sweep stale locks: %w", db.Classify(err))
	}

	for _, l := range swept {
		slog.WarnContext(ctx, "Swept stale lock",
			"unit_id", l.UnitID, "owner_id", l.OwnerID, "acquired_at", l.AcquiredAt)
	}
	m.metrics.RecordSwept(ctx, len(swept))
	span.SetAttributes(otel.AttrCount.Int(len(swept)))
	return len(swept), nil
}

// Get returns the lease on unitID, or nil when the unit is free.
func (m *Manager) Get(ctx context.Context, unitID string) (*Lock, error) {
	row, err := m.queries.GetLock(ctx, unitID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock on %s: %w", unitID, db.Classify(err))
	}
	l := fromRow(row)
	return &l, nil
}

// List returns every live lease, oldest first.
func (m *Manager) List(ctx context.Context) ([]Lock, error) {
	rows, err := m.queries.ListLocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", db.Classify(err))
	}
	locks := make([]Lock, 0, len(rows))
	for _, row := range rows {
		locks = append(locks, fromRow(row))
	}
	return locks, nil
}

// Count returns the number of live leases and records it as a gauge.
func (m *Manager) Count(ctx context.Context) (int64, error) {
	n, err := m.queries.CountLocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count locks: %w", db.Classify(err))
	}
	m.metrics.RecordHeld(ctx, n)
	return n, nil
}

func fromRow(row sqlc.Lock) Lock {
	return Lock{
		UnitID:     row.UnitID,
		OwnerID:    row.OwnerID,
		AcquiredAt: row.AcquiredAt.UTC(),
	}
}
