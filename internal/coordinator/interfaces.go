package coordinator

import (
	"context"
	"time"

	"github.com/ocrfarm/coordinator/internal/alerts"
	"github.com/ocrfarm/coordinator/internal/lock"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/runs"
)

//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks -source=interfaces.go Locker,ProfileStore,Recorder,Alerter,Executor

// Locker grants exclusive leases on units.
type Locker interface {
	Acquire(ctx context.Context, unitID, ownerID string) (lock.AcquireResult, error)
	Release(ctx context.Context, unitID, ownerID string) (bool, error)
}

// ProfileStore holds per-profile pause state.
type ProfileStore interface {
	GetState(ctx context.Context, profileID string) (*profile.State, error)
	SetPause(ctx context.Context, profileID string, until time.Time, reason string) error
	Heartbeat(ctx context.Context, profileID string, hb profile.Heartbeat) error
}

// Recorder appends run records.
type Recorder interface {
	Record(ctx context.Context, rec runs.Record) (int64, error)
}

// Alerter raises operator alerts.
type Alerter interface {
	Raise(ctx context.Context, a alerts.Alert) (int64, error)
}

// Executor performs the work on a unit. A returned error means the executor
// itself failed; a detected rate limit is reported in the Result.
type Executor interface {
	Execute(ctx context.Context, unit Unit) (Result, error)
}
