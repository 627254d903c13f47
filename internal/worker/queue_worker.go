package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/coordinator"
	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/queue"
	"github.com/ocrfarm/coordinator/internal/runs"
)

// JobQueue is the part of the job queue a worker drives.
type JobQueue interface {
	ClaimNext(ctx context.Context, workerID string) (*queue.ClaimedJob, error)
	Complete(ctx context.Context, jobID uuid.UUID) error
	Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error
	Entries(ctx context.Context, jobID uuid.UUID) ([]queue.Entry, error)
	SetEntryState(ctx context.Context, jobID uuid.UUID, entryID string, state queue.State, errMsg string) error
}

// RunRecorder appends run records.
type RunRecorder interface {
	Record(ctx context.Context, rec runs.Record) (int64, error)
}

// finishTimeout bounds the writes that close out a claimed job.
const finishTimeout = 10 * time.Second

// QueueWorker claims whole-directory jobs and runs the executor on each.
type QueueWorker struct {
	workerID string
	jobs     JobQueue
	executor coordinator.Executor
	recorder RunRecorder
	clock    clock.PassiveClock
	poll     time.Duration
	timeout  time.Duration
	once     bool
	backoff  *backoff.ExponentialBackOff
	sleep    func(ctx context.Context, d time.Duration, wake <-chan struct{})
}

// QueueWorkerOption configures a QueueWorker.
type QueueWorkerOption func(*QueueWorker)

// WithQueuePollInterval sets how long the worker idles when the queue is empty.
func WithQueuePollInterval(d time.Duration) QueueWorkerOption {
	return func(w *QueueWorker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithJobTimeout bounds each executor call. Zero disables the bound.
func WithJobTimeout(d time.Duration) QueueWorkerOption {
	return func(w *QueueWorker) {
		w.timeout = d
	}
}

// WithQueueOnce makes Run return after at most one job.
func WithQueueOnce(once bool) QueueWorkerOption {
	return func(w *QueueWorker) {
		w.once = once
	}
}

// WithRunRecorder records a run record per job.
func WithRunRecorder(r RunRecorder) QueueWorkerOption {
	return func(w *QueueWorker) {
		w.recorder = r
	}
}

// WithQueueClock sets the clock used for run record timings.
func WithQueueClock(c clock.PassiveClock) QueueWorkerOption {
	return func(w *QueueWorker) {
		w.clock = c
	}
}

// NewQueueWorker creates a QueueWorker.
func NewQueueWorker(workerID string, jobs JobQueue, executor coordinator.Executor, opts ...QueueWorkerOption) *QueueWorker {
	w := &QueueWorker{
		workerID: workerID,
		jobs:     jobs,
		executor: executor,
		clock:    clock.RealClock{},
		poll:     config.DefaultPollInterval,
		timeout:  config.DefaultExecutionTimeout,
		backoff:  newBackoff(),
		sleep:    sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run claims and processes jobs until ctx is cancelled.
func (w *QueueWorker) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Queue worker started", "worker_id", w.workerID)
	for {
		worked, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil && (w.once || !db.IsTransient(err)):
			return err
		case err != nil:
			wait = w.backoff.NextBackOff()
			slog.WarnContext(ctx, "Store unavailable, backing off", "worker_id", w.workerID, "wait", wait, "error", err)
		case !worked:
			w.backoff.Reset()
			wait = w.poll
		default:
			w.backoff.Reset()
		}

		if w.once {
			return nil
		}
		w.sleep(ctx, wait, nil)
	}
}

// RunOnce claims one job and processes it. It reports whether a job was
// claimed. The job's unfinished entries share the outcome of the run. A run
// record is written even when closing the job fails.
func (w *QueueWorker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNext(ctx, w.workerID)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	running := w.startEntries(ctx, job)

	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if w.timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, w.timeout)
	}
	started := w.clock.Now()
	result, execErr := w.executor.Execute(execCtx, coordinator.Unit{ID: job.ID.String(), Path: job.Dir})
	cancel()
	ended := w.clock.Now()

	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer fcancel()

	status, failure := jobStatus(result, execErr)
	w.finishEntries(fctx, job, running, failure)
	if failure == "" {
		err = w.jobs.Complete(fctx, job.ID)
	} else {
		err = w.jobs.Fail(fctx, job.ID, failure)
	}
	if err != nil {
		err = fmt.Errorf("failed to finish job %s: %w", job.ID, err)
		if failure == "" {
			failure = err.Error()
		}
	}

	w.record(fctx, job, status, failure, result, started, ended)
	if err != nil {
		return true, err
	}
	slog.InfoContext(ctx, "Job processed", "job_id", job.ID, "status", status, "duration", ended.Sub(started))
	return true, nil
}

// startEntries moves the job's unfinished entries to RUNNING and returns the
// ones it moved. Entry bookkeeping never blocks the job itself.
func (w *QueueWorker) startEntries(ctx context.Context, job *queue.ClaimedJob) []string {
	entries, err := w.jobs.Entries(ctx, job.ID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list job entries", "job_id", job.ID, "error", err)
		return nil
	}
	var running []string
	for _, e := range entries {
		if e.State != queue.StateNew && e.State != queue.StateReady {
			continue
		}
		if err := w.jobs.SetEntryState(ctx, job.ID, e.EntryID, queue.StateRunning, ""); err != nil {
			slog.WarnContext(ctx, "Failed to start job entry", "job_id", job.ID, "entry_id", e.EntryID, "error", err)
			continue
		}
		running = append(running, e.EntryID)
	}
	return running
}

func (w *QueueWorker) finishEntries(ctx context.Context, job *queue.ClaimedJob, running []string, failure string) {
	state := queue.StateDone
	if failure != "" {
		state = queue.StateFailed
	}
	for _, entryID := range running {
		if err := w.jobs.SetEntryState(ctx, job.ID, entryID, state, failure); err != nil {
			slog.WarnContext(ctx, "Failed to finish job entry", "job_id", job.ID, "entry_id", entryID, "error", err)
		}
	}
}

func jobStatus(result coordinator.Result, execErr error) (status, failure string) {
	switch {
	case execErr != nil && ctxDeadline(execErr):
		return runs.StatusTimeout, execErr.Error()
	case execErr != nil:
		return runs.StatusError, execErr.Error()
	case result.RateLimited:
		msg := "rate limited"
		if result.ResetAt != nil {
			msg = fmt.Sprintf("rate limited until %s", result.ResetAt.UTC().Format(time.RFC3339))
		}
		return runs.StatusLimit, msg
	case result.Status == runs.StatusError || result.Status == runs.StatusTimeout:
		msg := result.Error
		if msg == "" {
			msg = "executor reported " + result.Status
		}
		return result.Status, msg
	case result.Status != "":
		return result.Status, ""
	default:
		return runs.StatusOK, ""
	}
}

func ctxDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (w *QueueWorker) record(
	ctx context.Context, job *queue.ClaimedJob, status, failure string, result coordinator.Result, started, ended time.Time,
) {
	if w.recorder == nil {
		return
	}
	batch := job.ID.String()
	rec := runs.Record{
		BatchID:   &batch,
		FileName:  &job.Dir,
		Status:    &status,
		Timings:   result.Timings,
		StartedAt: &started,
		EndedAt:   &ended,
		Usage:     result.Usage,
	}
	if failure != "" {
		rec.ErrorDetail = &failure
	}
	if result.ArtifactRef != "" {
		rec.ArtifactRef = &result.ArtifactRef
	}
	if _, err := w.recorder.Record(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "Failed to record job run", "job_id", job.ID, "error", err)
	}
}
