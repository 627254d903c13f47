package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/ocrfarm/coordinator/internal/coordinator"
	"github.com/ocrfarm/coordinator/internal/queue"
	"github.com/ocrfarm/coordinator/internal/runs"
)

type fakeQueue struct {
	jobs      []*queue.ClaimedJob
	claimErr  error
	finishErr error
	completed []uuid.UUID
	failed    map[uuid.UUID]string
	workerIDs []string
	entries   map[uuid.UUID][]queue.Entry
}

func (q *fakeQueue) ClaimNext(_ context.Context, workerID string) (*queue.ClaimedJob, error) {
	q.workerIDs = append(q.workerIDs, workerID)
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if len(q.jobs) == 0 {
		return nil, nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, nil
}

func (q *fakeQueue) Complete(ctx context.Context, jobID uuid.UUID) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if q.finishErr != nil {
		return q.finishErr
	}
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if q.failed == nil {
		q.failed = map[uuid.UUID]string{}
	}
	q.failed[jobID] = errMsg
	return nil
}

func (q *fakeQueue) Entries(_ context.Context, jobID uuid.UUID) ([]queue.Entry, error) {
	return append([]queue.Entry(nil), q.entries[jobID]...), nil
}

func (q *fakeQueue) SetEntryState(_ context.Context, jobID uuid.UUID, entryID string, state queue.State, errMsg string) error {
	for i, e := range q.entries[jobID] {
		if e.EntryID == entryID {
			q.entries[jobID][i].State = state
			q.entries[jobID][i].LastError = errMsg
			return nil
		}
	}
	return queue.ErrJobNotFound
}

type recorderFunc func(ctx context.Context, rec runs.Record) (int64, error)

func (f recorderFunc) Record(ctx context.Context, rec runs.Record) (int64, error) {
	return f(ctx, rec)
}

func claimed(dir string) *queue.ClaimedJob {
	return &queue.ClaimedJob{Job: queue.Job{ID: uuid.New(), Dir: dir, State: queue.StateRunning}, RunID: uuid.New()}
}

func TestQueueWorker_RunOnce(t *testing.T) {
	t.Parallel()

	resetAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		result     coordinator.Result
		execErr    error
		wantStatus string
		wantFail   string
	}{
		{name: "success", wantStatus: runs.StatusOK},
		{name: "reported_skip_completes", result: coordinator.Result{Status: runs.StatusSkipped}, wantStatus: runs.StatusSkipped},
		{name: "executor_error_fails", execErr: errors.New("browser crashed"), wantStatus: runs.StatusError, wantFail: "browser crashed"},
		{name: "deadline_fails_as_timeout", execErr: context.DeadlineExceeded, wantStatus: runs.StatusTimeout, wantFail: "context deadline exceeded"},
		{
			name:       "rate_limit_fails",
			result:     coordinator.Result{RateLimited: true, ResetAt: &resetAt},
			wantStatus: runs.StatusLimit,
			wantFail:   "rate limited until 2026-03-01T13:00:00Z",
		},
		{
			name:       "reported_error_fails",
			result:     coordinator.Result{Status: runs.StatusError, Error: "upload rejected"},
			wantStatus: runs.StatusError,
			wantFail:   "upload rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			job := claimed("/srv/ocr/batch-9")
			q := &fakeQueue{jobs: []*queue.ClaimedJob{job}}
			exec := coordinator.ExecutorFunc(func(_ context.Context, u coordinator.Unit) (coordinator.Result, error) {
				assert.Equal(t, job.ID.String(), u.ID)
				assert.Equal(t, "/srv/ocr/batch-9", u.Path)
				return tt.result, tt.execErr
			})

			var recorded []runs.Record
			rec := recorderFunc(func(_ context.Context, r runs.Record) (int64, error) {
				recorded = append(recorded, r)
				return 1, nil
			})

			w := NewQueueWorker("ocr-03/4242", q, exec, WithRunRecorder(rec))
			worked, err := w.RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, worked)

			if tt.wantFail == "" {
				assert.Equal(t, []uuid.UUID{job.ID}, q.completed)
				assert.Empty(t, q.failed)
			} else {
				assert.Empty(t, q.completed)
				assert.Equal(t, tt.wantFail, q.failed[job.ID])
			}

			require.Len(t, recorded, 1)
			assert.Equal(t, tt.wantStatus, *recorded[0].Status)
			assert.Equal(t, job.ID.String(), *recorded[0].BatchID)
			assert.Equal(t, []string{"ocr-03/4242"}, q.workerIDs)
		})
	}
}

func TestQueueWorker_EmptyQueue(t *testing.T) {
	t.Parallel()

	w := NewQueueWorker("w", &fakeQueue{}, coordinator.ExecutorFunc(
		func(context.Context, coordinator.Unit) (coordinator.Result, error) {
			t.Fatal("executor must not run without a job")
			return coordinator.Result{}, nil
		}))

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestQueueWorker_FinishesAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	job := claimed("/srv/ocr/batch-1")
	q := &fakeQueue{jobs: []*queue.ClaimedJob{job}}
	exec := coordinator.ExecutorFunc(func(ctx context.Context, _ coordinator.Unit) (coordinator.Result, error) {
		cancel()
		return coordinator.Result{}, ctx.Err()
	})

	w := NewQueueWorker("w", q, exec)
	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Contains(t, q.failed[job.ID], "canceled")
}

func TestQueueWorker_Run(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &fakeQueue{jobs: []*queue.ClaimedJob{claimed("/a"), claimed("/b")}}
	exec := coordinator.ExecutorFunc(func(context.Context, coordinator.Unit) (coordinator.Result, error) {
		return coordinator.Result{}, nil
	})

	w := NewQueueWorker("w", q, exec, WithQueuePollInterval(time.Minute))
	var waits []time.Duration
	w.sleep = func(_ context.Context, d time.Duration, _ <-chan struct{}) {
		waits = append(waits, d)
		if d == time.Minute {
			cancel()
		}
	}

	require.NoError(t, w.Run(ctx))
	assert.Len(t, q.completed, 2)
	assert.Equal(t, []time.Duration{0, 0, time.Minute}, waits)
}

func TestQueueWorker_RunOnceMode(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{jobs: []*queue.ClaimedJob{claimed("/a"), claimed("/b")}}
	exec := coordinator.ExecutorFunc(func(context.Context, coordinator.Unit) (coordinator.Result, error) {
		return coordinator.Result{}, nil
	})

	require.NoError(t, NewQueueWorker("w", q, exec, WithQueueOnce(true)).Run(context.Background()))
	assert.Len(t, q.completed, 1)

	q.claimErr = errors.New("boom")
	require.ErrorContains(t, NewQueueWorker("w", q, exec, WithQueueOnce(true)).Run(context.Background()), "boom")
}

func TestQueueWorker_DrivesEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		execErr   error
		wantState queue.State
		wantError string
	}{
		{name: "success_finishes_entries", wantState: queue.StateDone},
		{name: "failure_fails_entries", execErr: errors.New("browser crashed"), wantState: queue.StateFailed, wantError: "browser crashed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			job := claimed("/srv/ocr/batch-9")
			q := &fakeQueue{
				jobs: []*queue.ClaimedJob{job},
				entries: map[uuid.UUID][]queue.Entry{job.ID: {
					{JobID: job.ID, EntryID: "page_001.jpg", State: queue.StateDone},
					{JobID: job.ID, EntryID: "page_002.jpg", State: queue.StateReady},
					{JobID: job.ID, EntryID: "page_003.jpg", State: queue.StateNew},
				}},
			}
			exec := coordinator.ExecutorFunc(func(context.Context, coordinator.Unit) (coordinator.Result, error) {
				for _, e := range q.entries[job.ID][1:] {
					assert.Equal(t, queue.StateRunning, e.State, e.EntryID)
				}
				return coordinator.Result{}, tt.execErr
			})

			worked, err := NewQueueWorker("w", q, exec).RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, worked)

			entries := q.entries[job.ID]
			assert.Equal(t, queue.StateDone, entries[0].State, "finished entries are left alone")
			assert.Empty(t, entries[0].LastError)
			for _, e := range entries[1:] {
				assert.Equal(t, tt.wantState, e.State, e.EntryID)
				assert.Equal(t, tt.wantError, e.LastError, e.EntryID)
			}
		})
	}
}

func TestQueueWorker_RecordsWhenFinishFails(t *testing.T) {
	t.Parallel()

	job := claimed("/srv/ocr/batch-4")
	q := &fakeQueue{jobs: []*queue.ClaimedJob{job}, finishErr: errors.New("connection reset")}
	exec := coordinator.ExecutorFunc(func(context.Context, coordinator.Unit) (coordinator.Result, error) {
		return coordinator.Result{Usage: &runs.Usage{TokensIn: 10, TokensOut: 5, TokensTotal: 15}}, nil
	})

	var recorded []runs.Record
	rec := recorderFunc(func(_ context.Context, r runs.Record) (int64, error) {
		recorded = append(recorded, r)
		return 1, nil
	})

	fc := testingclock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	w := NewQueueWorker("w", q, exec, WithRunRecorder(rec), WithQueueClock(fc))
	worked, err := w.RunOnce(context.Background())
	require.ErrorContains(t, err, "connection reset")
	assert.True(t, worked)

	require.Len(t, recorded, 1)
	assert.Equal(t, runs.StatusOK, *recorded[0].Status)
	require.NotNil(t, recorded[0].ErrorDetail)
	assert.Contains(t, *recorded[0].ErrorDetail, "connection reset")
	assert.Equal(t, fc.Now(), *recorded[0].StartedAt)
	assert.Equal(t, fc.Now(), *recorded[0].EndedAt)
	assert.Equal(t, int64(15), recorded[0].Usage.TokensTotal)
}
