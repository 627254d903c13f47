// Package runs records the append-only history of work executions.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/db/sqlc"
	"github.com/ocrfarm/coordinator/internal/otel"
)

// Execution statuses.
const (
	StatusOK      = "OK"
	StatusLimit   = "LIMIT"
	StatusError   = "ERROR"
	StatusSkipped = "SKIPPED"
	StatusTimeout = "TIMEOUT"
)

// KnownStatus reports whether s is part of the status vocabulary.
func KnownStatus(s string) bool {
	switch s {
	case StatusOK, StatusLimit, StatusError, StatusSkipped, StatusTimeout:
		return true
	}
	return false
}

// DefaultListLimit is used when List is called without a positive limit.
const DefaultListLimit = 100

// MaxDetailLength bounds the stored error detail.
const MaxDetailLength = 4000

// Record is one execution attempt. Every field except CreatedAt is optional
// and is stored as NULL when unset.
type Record struct {
	ID          int64                    `json:"id"`
	BatchID     *string                  `json:"batch_id"`
	FileName    *string                  `json:"file_name"`
	ProfileID   *string                  `json:"profile_id"`
	Status      *string                  `json:"status"`
	ErrorType   *string                  `json:"error_type"`
	ErrorDetail *string                  `json:"error_detail"`
	ArtifactRef *string                  `json:"artifact_ref"`
	Timings     map[string]time.Duration `json:"timings"`
	StartedAt   *time.Time               `json:"started_at"`
	EndedAt     *time.Time               `json:"ended_at"`
	WorkerHost  *string                  `json:"worker_host"`
	WorkerPID   *int                     `json:"worker_pid"`
	Usage       *Usage                   `json:"usage,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
}

// Usage is the model and token consumption an executor reported.
type Usage struct {
	Model       string `json:"model,omitempty"`
	TokensIn    int64  `json:"tokens_in"`
	TokensOut   int64  `json:"tokens_out"`
	TokensTotal int64  `json:"tokens_total"`
}

// Duration returns EndedAt - StartedAt, or zero when either is unset.
func (r *Record) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

// Filter narrows List and Latest. Empty fields match everything.
type Filter struct {
	ProfileID string
	BatchID   string
	FileName  string
	Status    string
}

// Summary aggregates records per profile and status.
type Summary struct {
	ProfileID   string        `json:"profile_id"`
	Status      string        `json:"status"`
	Total       int64         `json:"total"`
	AvgDuration time.Duration `json:"avg_duration"`
	TokensTotal int64         `json:"tokens_total"`
}

// Ptr returns a pointer to v, for filling optional Record fields.
func Ptr[T any](v T) *T {
	return &v
}

// Recorder appends to and reads run_records.
type Recorder struct {
	pool    db.TxBeginner
	queries *sqlc.Queries
	clock   clock.PassiveClock
	tracer  trace.Tracer
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the clock used for created_at.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Recorder) {
		r.clock = c
	}
}

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Recorder) {
		r.tracer = tracer
	}
}

// NewRecorder creates a Recorder on top of the given connection or pool.
func NewRecorder(pool db.TxBeginner, opts ...Option) *Recorder {
	r := &Recorder{
		pool:    pool,
		queries: sqlc.New(pool),
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends rec and returns its id. Unknown statuses are stored as
// given. Text fields are made valid UTF-8 before they are stored.
func (r *Recorder) Record(ctx context.Context, rec Record) (int64, error) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "runs.Record")
	defer span.End()

	if rec.Status != nil && !KnownStatus(*rec.Status) {
		slog.WarnContext(ctx, "Recording run with unknown status", "status", *rec.Status)
	}

	params := sqlc.InsertRunRecordParams{
		BatchID:     db.CleanTextPtr(rec.BatchID),
		FileName:    db.CleanTextPtr(rec.FileName),
		ProfileID:   db.CleanTextPtr(rec.ProfileID),
		Status:      db.CleanTextPtr(rec.Status),
		ErrorType:   db.CleanTextPtr(rec.ErrorType),
		ErrorDetail: truncate(db.CleanTextPtr(rec.ErrorDetail)),
		ArtifactRef: db.CleanTextPtr(rec.ArtifactRef),
		StartedAt:   utc(rec.StartedAt),
		EndedAt:     utc(rec.EndedAt),
		WorkerHost:  db.CleanTextPtr(rec.WorkerHost),
		CreatedAt:   r.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if u := rec.Usage; u != nil {
		params.Model = db.CleanTextPtr(optional(u.Model))
		params.TokensIn = &u.TokensIn
		params.TokensOut = &u.TokensOut
		params.TokensTotal = &u.TokensTotal
	}
	if rec.Timings != nil {
		timings, err := json.Marshal(rec.Timings)
		if err != nil {
			return 0, fmt.Errorf("failed to encode timings: %w", err)
		}
		params.Timings = timings
	}
	if rec.WorkerPID != nil && *rec.WorkerPID >= 0 && *rec.WorkerPID <= math.MaxInt32 {
		pid := int32(*rec.WorkerPID) // #nosec G115 -- range checked above
		params.WorkerPid = &pid
	}

	id, err := r.queries.InsertRunRecord(ctx, params)
	if err != nil {
		otel.RecordError(span, err)
		return 0, fmt.Errorf("failed to insert run record: %w", db.Classify(err))
	}
	return id, nil
}

// Get returns the record with the given id, or nil if it does not exist.
func (r *Recorder) Get(ctx context.Context, id int64) (*Record, error) {
	row, err := r.queries.GetRunRecord(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run record %d: %w", id, db.Classify(err))
	}
	return fromRow(row), nil
}

// List returns records matching f, newest first.
func (r *Recorder) List(ctx context.Context, f Filter, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := r.queries.ListRunRecords(ctx, sqlc.ListRunRecordsParams{
		ProfileID: optional(f.ProfileID),
		BatchID:   optional(f.BatchID),
		FileName:  optional(f.FileName),
		Status:    optional(f.Status),
		MaxRows:   int32(min(limit, math.MaxInt32)), // #nosec G115 -- bounded by min
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", db.Classify(err))
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromRow(row))
	}
	return records, nil
}

// Latest returns the newest record matching f, or nil.
func (r *Recorder) Latest(ctx context.Context, f Filter) (*Record, error) {
	records, err := r.List(ctx, f, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Summary aggregates records created at or after since.
func (r *Recorder) Summary(ctx context.Context, since time.Time) ([]Summary, error) {
	rows, err := r.queries.SummarizeRunRecords(ctx, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to summarize run records: %w", db.Classify(err))
	}
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, Summary{
			ProfileID:   row.ProfileID,
			Status:      row.Status,
			Total:       row.Total,
			AvgDuration: time.Duration(row.AvgDurationSeconds * float64(time.Second)),
			TokensTotal: row.TokensTotal,
		})
	}
	return out, nil
}

// SucceededFiles returns the files of batchID that have an OK record.
func (r *Recorder) SucceededFiles(ctx context.Context, batchID string) (map[string]struct{}, error) {
	names, err := r.queries.ListSucceededFiles(ctx, &batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list succeeded files of batch %s: %w", batchID, db.Classify(err))
	}
	done := make(map[string]struct{}, len(names))
	for _, name := range names {
		done[name] = struct{}{}
	}
	return done, nil
}

// Prune deletes records created more than retention ago and returns how
// many were removed. Deletes outside Prune are rejected by the table.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "runs.Prune")
	defer span.End()

	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}

	var deleted int64
	err := db.InTx(ctx, r.pool, func(tx *sqlc.Queries) error {
		if err := tx.AllowRunRecordRetention(ctx); err != nil {
			return fmt.Errorf("failed to enable retention: %w", db.Classify(err))
		}
		n, err := tx.DeleteRunRecordsBefore(ctx, sqlc.DeleteRunRecordsBeforeParams{
			Now:              db.Timestamp(r.clock),
			RetentionSeconds: retention.Seconds(),
		})
		if err != nil {
			return fmt.Errorf("failed to delete old run records: %w", db.Classify(err))
		}
		deleted = n
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return 0, err
	}

	span.SetAttributes(otel.AttrCount.Int64(deleted))
	if deleted > 0 {
		slog.InfoContext(ctx, "Pruned run records", "count", deleted, "retention", retention)
	}
	return deleted, nil
}

func fromRow(row sqlc.RunRecord) *Record {
	rec := &Record{
		ID:          row.ID,
		BatchID:     row.BatchID,
		FileName:    row.FileName,
		ProfileID:   row.ProfileID,
		Status:      row.Status,
		ErrorType:   row.ErrorType,
		ErrorDetail: row.ErrorDetail,
		ArtifactRef: row.ArtifactRef,
		StartedAt:   utc(row.StartedAt),
		EndedAt:     utc(row.EndedAt),
		WorkerHost:  row.WorkerHost,
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if row.Timings != nil {
		var timings map[string]time.Duration
		if err := json.Unmarshal(row.Timings, &timings); err != nil {
			slog.Warn("Ignoring malformed run timings", "id", row.ID, "error", err)
		} else {
			rec.Timings = timings
		}
	}
	if row.WorkerPid != nil {
		pid := int(*row.WorkerPid)
		rec.WorkerPID = &pid
	}
	if row.TokensTotal != nil || row.Model != nil {
		rec.Usage = &Usage{
			Model:       deref(row.Model),
			TokensIn:    deref(row.TokensIn),
			TokensOut:   deref(row.TokensOut),
			TokensTotal: deref(row.TokensTotal),
		}
	}
	return rec
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Microsecond)
	return &u
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s *string) *string {
	if s == nil {
		return nil
	}
	r := []rune(*s)
	if len(r) <= MaxDetailLength {
		return s
	}
	t := string(r[:MaxDetailLength])
	return &t
}
