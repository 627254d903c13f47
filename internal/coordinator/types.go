package coordinator

import (
	"context"
	"time"

	"github.com/ocrfarm/coordinator/internal/lock"
	"github.com/ocrfarm/coordinator/internal/runs"
)

// Decision is the top-level result of a work attempt.
type Decision string

// Decisions.
const (
	DecisionProceeded Decision = "proceeded"
	DecisionDenied    Decision = "denied"
)

// Reason explains a denied attempt.
type Reason string

// Deny reasons. Pauses and contention are normal operating states.
const (
	ReasonRateLimited      Reason = "rate_limited"
	ReasonAlreadyLocked    Reason = "already_locked"
	ReasonStoreUnavailable Reason = "store_unavailable"
	ReasonNoCandidate      Reason = "no_candidate"
)

// Unit is a candidate piece of work, normally one image file.
type Unit struct {
	// ID is the lock key. It must be stable across workers.
	ID string `json:"unit_id"`
	// Path is where the executor finds the unit.
	Path string `json:"path,omitempty"`
	// BatchID groups units for run records.
	BatchID string `json:"batch_id,omitempty"`
}

// Result is what the executor reports for a unit.
type Result struct {
	Status      string                   `json:"status,omitempty"`
	Timings     map[string]time.Duration `json:"timings,omitempty"`
	RateLimited bool                     `json:"rate_limited"`
	ResetAt     *time.Time               `json:"reset_at,omitempty"`
	ArtifactRef string                   `json:"artifact_ref,omitempty"`
	ErrorType   string                   `json:"error_type,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Usage       *runs.Usage              `json:"usage,omitempty"`
}

// Outcome is returned by TryWork.
type Outcome struct {
	Decision   Decision      `json:"decision"`
	Reason     Reason        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	PauseUntil *time.Time    `json:"pause_until,omitempty"`
	Unit       *Unit         `json:"unit,omitempty"`
	Holder     *lock.Lock    `json:"holder,omitempty"`
	Result     *Result       `json:"result,omitempty"`
	Status     string        `json:"status,omitempty"`
	RecordID   int64         `json:"record_id,omitempty"`
	// ExecErr is the executor's error, if it failed. It is reported here
	// rather than returned so callers pick their own retry policy.
	ExecErr error `json:"-"`
}

// Proceeded reports whether the attempt ran the executor.
func (o *Outcome) Proceeded() bool {
	return o != nil && o.Decision == DecisionProceeded
}

func denied(reason Reason) *Outcome {
	return &Outcome{Decision: DecisionDenied, Reason: reason}
}

// Selector yields the next candidate unit. ok is false when there is
// nothing left to do.
type Selector interface {
	Next(ctx context.Context) (unit Unit, ok bool, err error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context) (Unit, bool, error)

// Next implements Selector.
func (f SelectorFunc) Next(ctx context.Context) (Unit, bool, error) {
	return f(ctx)
}

// Only returns a Selector that always yields u.
func Only(u Unit) Selector {
	return SelectorFunc(func(context.Context) (Unit, bool, error) {
		return u, true, nil
	})
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, unit Unit) (Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, unit Unit) (Result, error) {
	return f(ctx, unit)
}
