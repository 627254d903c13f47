package v1

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ocrfarm/coordinator/internal/alerts"
	"github.com/ocrfarm/coordinator/internal/lock"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/queue"
	"github.com/ocrfarm/coordinator/internal/runs"
)

//go:generate mockgen -destination=mocks/mock_services.go -package=mocks -source=services.go ProfileService,LockService,JobService,RunService,AlertService

// ProfileService is the subset of profile.Store served by the API.
type ProfileService interface {
	List(ctx context.Context) ([]*profile.State, error)
	GetState(ctx context.Context, profileID string) (*profile.State, error)
	SetPause(ctx context.Context, profileID string, until time.Time, reason string) error
	ClearPause(ctx context.Context, profileID string) error
}

// LockService is the subset of lock.Manager served by the API.
type LockService interface {
	List(ctx context.Context) ([]lock.Lock, error)
	Sweep(ctx context.Context, threshold time.Duration) (int, error)
}

// JobService is the subset of queue.Queue served by the API.
type JobService interface {
	Enqueue(ctx context.Context, jobDir string, entryIDs []string) (uuid.UUID, error)
	Create(ctx context.Context, jobDir string) (uuid.UUID, error)
	MarkReady(ctx context.Context, jobID uuid.UUID) error
	AppendEntries(ctx context.Context, jobID uuid.UUID, entryIDs []string) error
	Complete(ctx context.Context, jobID uuid.UUID) error
	Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error
	Get(ctx context.Context, jobID uuid.UUID) (*queue.Job, error)
	List(ctx context.Context, state queue.State, limit int) ([]queue.Job, error)
	Counts(ctx context.Context) (map[queue.State]int64, error)
	Entries(ctx context.Context, jobID uuid.UUID) ([]queue.Entry, error)
	Runs(ctx context.Context, jobID uuid.UUID) ([]queue.Run, error)
	ClaimNext(ctx context.Context, workerID string) (*queue.ClaimedJob, error)
	Requeue(ctx context.Context, jobID uuid.UUID) error
	FindCorrupt(ctx context.Context) ([]queue.Job, error)
}

// RunService is the subset of runs.Recorder served by the API.
type RunService interface {
	List(ctx context.Context, f runs.Filter, limit int) ([]*runs.Record, error)
	Summary(ctx context.Context, since time.Time) ([]runs.Summary, error)
}

// AlertService is the subset of alerts.Store served by the API.
type AlertService interface {
	ListUnresolved(ctx context.Context, profileID string) ([]alerts.Alert, error)
	Resolve(ctx context.Context, id int64) error
}
