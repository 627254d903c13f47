// Package queue implements the job queue: whole-directory jobs that move
// NEW -> READY -> RUNNING -> DONE | FAILED, claimed by at most one worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/db/sqlc"
	"github.com/ocrfarm/coordinator/internal/otel"
	"github.com/ocrfarm/coordinator/internal/telemetry"
)

// MaxErrorLength bounds the stored last_error of jobs, entries and runs.
const MaxErrorLength = 4000

// DefaultListLimit is used when List is called without a positive limit.
const DefaultListLimit = 100

// State is a job or entry state.
type State = sqlc.JobState

// Job and entry states.
const (
	StateNew     = sqlc.JobStateNEW
	StateReady   = sqlc.JobStateREADY
	StateRunning = sqlc.JobStateRUNNING
	StateDone    = sqlc.JobStateDONE
	StateFailed  = sqlc.JobStateFAILED
)

// Job run statuses.
const (
	RunStatusDone   = "DONE"
	RunStatusFailed = "FAILED"
)

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a job or entry is not in a state
	// that allows the requested change.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid queue argument")
)

// IsTerminal reports whether s is DONE or FAILED.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateFailed
}

// Job is a unit of queue work, normally one directory of images.
type Job struct {
	ID        uuid.UUID `json:"job_id"`
	Dir       string    `json:"job_dir"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Entry is one item within a job.
type Entry struct {
	JobID     uuid.UUID `json:"job_id"`
	EntryID   string    `json:"entry_id"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Run is one claim of a job by a worker.
type Run struct {
	ID        uuid.UUID  `json:"run_id"`
	JobID     uuid.UUID  `json:"job_id"`
	WorkerID  string     `json:"worker_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ClaimedJob is a job handed to a worker together with its run.
type ClaimedJob struct {
	Job
	RunID uuid.UUID `json:"run_id"`
}

// Queue is the Postgres backed job queue.
type Queue struct {
	pool    db.TxBeginner
	queries *sqlc.Queries
	clock   clock.PassiveClock
	tracer  trace.Tracer
	metrics *telemetry.QueueMetrics
	newID   func() uuid.UUID
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for timestamps. Without one every timestamp
// comes from the database clock, which keeps FIFO order consistent across
// hosts.
func WithClock(c clock.PassiveClock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(q *Queue) {
		q.tracer = tracer
	}
}

// WithMetrics sets the queue metrics. If not set, metrics are disabled.
func WithMetrics(m *telemetry.QueueMetrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// New creates a queue on top of pool.
func New(pool db.TxBeginner, opts ...Option) *Queue {
	q := &Queue{
		pool:    pool,
		queries: sqlc.New(pool),
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) now() *time.Time {
	return db.Timestamp(q.clock)
}

// Enqueue creates a READY job for jobDir with READY entries, in one transaction.
func (q *Queue) Enqueue(ctx context.Context, jobDir string, entryIDs []string) (uuid.UUID, error) {
	return q.insert(ctx, jobDir, StateReady, entryIDs)
}

// Create creates a NEW job. Workers do not see it until MarkReady.
func (q *Queue) Create(ctx context.Context, jobDir string) (uuid.UUID, error) {
	return q.insert(ctx, jobDir, StateNew, nil)
}

func (q *Queue) insert(ctx context.Context, jobDir string, state State, entryIDs []string) (uuid.UUID, error) {
	ctx, span := otel.StartSpan(ctx, q.tracer, "queue.Enqueue")
	defer span.End()

	if jobDir == "" {
		return uuid.Nil, fmt.Errorf("%w: job dir is required", ErrInvalidArgument)
	}

	jobID := q.newID()
	now := q.now()
	err := db.InTx(ctx, q.pool, func(tx *sqlc.Queries) error {
		if err := tx.InsertJob(ctx, sqlc.InsertJobParams{
			JobID:  jobID,
			JobDir: jobDir,
			State:  state,
			Now:    now,
		}); err != nil {
			return fmt.Errorf("failed to insert job: %w", db.Classify(err))
		}
		return insertEntries(ctx, tx, jobID, entryIDs, now)
	})
	if err != nil {
		otel.RecordError(span, err)
		return uuid.Nil, err
	}

	span.SetAttributes(otel.AttrJobID.String(jobID.String()))
	q.metrics.RecordTransition(ctx, string(state))
	slog.InfoContext(ctx, "Job created", "job_id", jobID, "job_dir", jobDir, "state", state, "entries", len(entryIDs))
	return jobID, nil
}

func insertEntries(ctx context.Context, tx *sqlc.Queries, jobID uuid.UUID, entryIDs []string, now *time.Time) error {
	for _, entryID := range entryIDs {
		if entryID == "" {
			return fmt.Errorf("%w: entry id is required", ErrInvalidArgument)
		}
		if _, err := tx.InsertJobEntry(ctx, sqlc.InsertJobEntryParams{
			JobID:   jobID,
			EntryID: entryID,
			State:   StateReady,
			Now:     now,
		}); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", entryID, db.Classify(err))
		}
	}
	return nil
}

// MarkReady moves a NEW job to READY.
func (q *Queue) MarkReady(ctx context.Context, jobID uuid.UUID) error {
	n, err := q.queries.MarkJobReady(ctx, sqlc.MarkJobReadyParams{JobID: jobID, Now: q.now()})
	if err != nil {
		return fmt.Errorf("failed to mark job %s ready: %w", jobID, db.Classify(err))
	}
	if n == 0 {
		return q.transitionError(ctx, jobID, StateReady)
	}
	q.metrics.RecordTransition(ctx, string(StateReady))
	return nil
}

// AppendEntries adds entries to an existing job. Entries that already exist
// are left untouched.
func (q *Queue) AppendEntries(ctx context.Context, jobID uuid.UUID, entryIDs []string) error {
	return db.InTx(ctx, q.pool, func(tx *sqlc.Queries) error {
		if _, err := tx.GetJob(ctx, jobID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return fmt.Errorf("failed to read job %s: %w", jobID, db.Classify(err))
		}
		return insertEntries(ctx, tx, jobID, entryIDs, q.now())
	})
}

// ClaimNext claims the oldest READY job for workerID and opens a run for it.
// It returns nil when no job is ready. Two concurrent callers never receive
// the same job.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*ClaimedJob, error) {
	ctx, span := otel.StartSpan(ctx, q.tracer, "queue.ClaimNext",
		trace.WithAttributes(otel.AttrWorkerID.String(workerID)))
	defer span.End()

	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", ErrInvalidArgument)
	}

	var claimed *ClaimedJob
	now := q.now()
	err := db.InTx(ctx, q.pool, func(tx *sqlc.Queries) error {
		row, err := tx.ClaimNextJob(ctx, now)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", db.Classify(err))
		}

		runID := q.newID()
		if err := tx.InsertJobRun(ctx, sqlc.InsertJobRunParams{
			RunID:    runID,
			JobID:    row.JobID,
			WorkerID: workerID,
			Now:      now,
		}); err != nil {
			return fmt.Errorf("failed to open run for job %s: %w", row.JobID, db.Classify(err))
		}

		claimed = &ClaimedJob{Job: jobFromRow(row), RunID: runID}
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		q.metrics.RecordClaim(ctx, "error")
		return nil, err
	}
	if claimed == nil {
		q.metrics.RecordClaim(ctx, "empty")
		return nil, nil
	}

	span.SetAttributes(otel.AttrJobID.String(claimed.ID.String()))
	q.metrics.RecordClaim(ctx, "claimed")
	q.metrics.RecordTransition(ctx, string(StateRunning))
	slog.InfoContext(ctx, "Job claimed", "job_id", claimed.ID, "run_id", claimed.RunID, "worker_id", workerID)
	return claimed, nil
}

// Complete marks a RUNNING job DONE and closes its open run. Completing a job
// that is already terminal is a no-op.
func (q *Queue) Complete(ctx context.Context, jobID uuid.UUID) error {
	return q.finish(ctx, jobID, StateDone, "")
}

// Fail marks a RUNNING job FAILED with the given error and closes its open
// run. Failing a job that is already terminal is a no-op.
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return q.finish(ctx, jobID, StateFailed, errMsg)
}

func (q *Queue) finish(ctx context.Context, jobID uuid.UUID, state State, errMsg string) error {
	ctx, span := otel.StartSpan(ctx, q.tracer, "queue.Finish",
		trace.WithAttributes(otel.AttrJobID.String(jobID.String()), otel.AttrStatus.String(string(state))))
	defer span.End()

	now := q.now()
	lastError := optionalError(errMsg)
	runStatus := RunStatusDone
	if state == StateFailed {
		runStatus = RunStatusFailed
	}

	var updated int64
	err := db.InTx(ctx, q.pool, func(tx *sqlc.Queries) error {
		n, err := tx.FinishJob(ctx, sqlc.FinishJobParams{
			State:     state,
			Now:       now,
			LastError: lastError,
			JobID:     jobID,
		})
		if err != nil {
			return fmt.Errorf("failed to finish job %s: %w", jobID, db.Classify(err))
		}
		updated = n
		if n == 0 {
			return nil
		}
		if _, err := tx.CloseOpenJobRuns(ctx, sqlc.CloseOpenJobRunsParams{
			Now:    now,
			Status: &runStatus,
			Error:  lastError,
			JobID:  jobID,
		}); err != nil {
			return fmt.Errorf("failed to close runs of job %s: %w", jobID, db.Classify(err))
		}
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return err
	}

	if updated == 0 {
		job, err := q.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if IsTerminal(job.State) {
			slog.DebugContext(ctx, "Job already finished", "job_id", jobID, "state", job.State)
			return nil
		}
		return fmt.Errorf("%w: job %s is %s, not RUNNING", ErrInvalidTransition, jobID, job.State)
	}

	q.metrics.RecordTransition(ctx, string(state))
	slog.InfoContext(ctx, "Job finished", "job_id", jobID, "state", state)
	return nil
}

// Requeue moves a FAILED job back to READY, behind every job already waiting.
// Its unfinished entries become READY again; DONE entries stay DONE.
func (q *Queue) Requeue(ctx context.Context, jobID uuid.UUID) error {
	now := q.now()
	var requeued int64
	err := db.InTx(ctx, q.pool, func(tx *sqlc.Queries) error {
		n, err := tx.RequeueJob(ctx, sqlc.RequeueJobParams{JobID: jobID, Now: now})
		if err != nil {
			return fmt.Errorf("failed to requeue job %s: %w", jobID, db.Classify(err))
		}
		requeued = n
		if n == 0 {
			return nil
		}
		if _, err := tx.ResetJobEntries(ctx, sqlc.ResetJobEntriesParams{Now: now, JobID: jobID}); err != nil {
			return fmt.Errorf("failed to reset entries of job %s: %w", jobID, db.Classify(err))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if requeued == 0 {
		return q.transitionError(ctx, jobID, StateReady)
	}
	q.metrics.RecordTransition(ctx, string(StateReady))
	slog.InfoContext(ctx, "Job requeued", "job_id", jobID)
	return nil
}

// entrySources lists the states an entry may move from into each target.
var entrySources = map[State][]string{
	StateRunning: {string(StateNew), string(StateReady)},
	StateDone:    {string(StateRunning)},
	StateFailed:  {string(StateRunning)},
	StateReady:   {string(StateNew), string(StateFailed)},
}

// SetEntryState moves an entry forward. Moves that would go backwards,
// other than FAILED -> READY, are rejected with ErrInvalidTransition.
func (q *Queue) SetEntryState(ctx context.Context, jobID uuid.UUID, entryID string, state State, errMsg string) error {
	sources, ok := entrySources[state]
	if !ok {
		return fmt.Errorf("%w: entries cannot move to %s", ErrInvalidTransition, state)
	}

	n, err := q.queries.UpdateJobEntryState(ctx, sqlc.UpdateJobEntryStateParams{
		State:      state,
		Now:        q.now(),
		LastError:  optionalError(errMsg),
		JobID:      jobID,
		EntryID:    entryID,
		FromStates: sources,
	})
	if err != nil {
		return fmt.Errorf("failed to update entry %s of job %s: %w", entryID, jobID, db.Classify(err))
	}
	if n > 0 {
		return nil
	}

	entry, err := q.queries.GetJobEntry(ctx, sqlc.GetJobEntryParams{JobID: jobID, EntryID: entryID})
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: entry %s of job %s", ErrJobNotFound, entryID, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to read entry %s of job %s: %w", entryID, jobID, db.Classify(err))
	}
	if entry.State == state {
		return nil
	}
	return fmt.Errorf("%w: entry %s is %s, cannot move to %s", ErrInvalidTransition, entryID, entry.State, state)
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	row, err := q.queries.GetJob(ctx, jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, db.Classify(err))
	}
	job := jobFromRow(row)
	return &job, nil
}

// List returns jobs, optionally filtered by state, oldest update first.
func (q *Queue) List(ctx context.Context, state State, limit int) ([]Job, error) {
	params := sqlc.ListJobsParams{MaxRows: clampLimit(limit)}
	if state != "" {
		if !state.Valid() {
			return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, state)
		}
		params.State = sqlc.NullJobState{JobState: state, Valid: true}
	}

	rows, err := q.queries.ListJobs(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", db.Classify(err))
	}
	return jobsFromRows(rows), nil
}

// Counts returns the number of jobs in each state.
func (q *Queue) Counts(ctx context.Context) (map[State]int64, error) {
	rows, err := q.queries.CountJobsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", db.Classify(err))
	}
	counts := make(map[State]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Total
	}
	return counts, nil
}

// Entries returns the entries of a job ordered by entry id.
func (q *Queue) Entries(ctx context.Context, jobID uuid.UUID) ([]Entry, error) {
	rows, err := q.queries.ListJobEntries(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries of job %s: %w", jobID, db.Classify(err))
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			JobID:     row.JobID,
			EntryID:   row.EntryID,
			State:     row.State,
			UpdatedAt: row.UpdatedAt.UTC(),
			LastError: deref(row.LastError),
		})
	}
	return entries, nil
}

// Runs returns the runs of a job, newest first.
func (q *Queue) Runs(ctx context.Context, jobID uuid.UUID) ([]Run, error) {
	rows, err := q.queries.ListJobRuns(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs of job %s: %w", jobID, db.Classify(err))
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		r := Run{
			ID:        row.RunID,
			JobID:     row.JobID,
			WorkerID:  row.WorkerID,
			StartedAt: row.StartedAt.UTC(),
			Status:    deref(row.Status),
			Error:     deref(row.Error),
		}
		if row.EndedAt != nil {
			ended := row.EndedAt.UTC()
			r.EndedAt = &ended
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// FindCorrupt returns RUNNING jobs that have no open run. Such jobs can only
// arise from manual edits or a bug and need an operator.
func (q *Queue) FindCorrupt(ctx context.Context) ([]Job, error) {
	rows, err := q.queries.ListCorruptJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find corrupt jobs: %w", db.Classify(err))
	}
	return jobsFromRows(rows), nil
}

func (q *Queue) transitionError(ctx context.Context, jobID uuid.UUID, target State) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, cannot move to %s", ErrInvalidTransition, jobID, job.State, target)
}

// TruncateError makes msg valid UTF-8 and shortens it to MaxErrorLength
// characters.
func TruncateError(msg string) string {
	msg = db.CleanText(msg)
	if utf8.RuneCountInString(msg) <= MaxErrorLength {
		return msg
	}
	return string([]rune(msg)[:MaxErrorLength])
}

func optionalError(msg string) *string {
	if msg == "" {
		return nil
	}
	msg = TruncateError(msg)
	return &msg
}

// MaxListLimit caps List page sizes.
const MaxListLimit = 10000

func clampLimit(limit int) int32 {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return int32(limit) // #nosec G115 -- bounded above
}

func jobFromRow(row sqlc.Job) Job {
	return Job{
		ID:        row.JobID,
		Dir:       row.JobDir,
		State:     row.State,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
		LastError: deref(row.LastError),
	}
}

func jobsFromRows(rows []sqlc.Job) []Job {
	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, jobFromRow(row))
	}
	return jobs
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
