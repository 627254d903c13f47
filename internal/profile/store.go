package profile

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

// ErrInvalidArgument is returned for malformed requests.
var ErrInvalidArgument = errors.New("invalid profile argument")

// Store reads and writes profile_runtime_state. Each write is a single
// upsert, so concurrent writers never lose a row; the last writer wins.
type Store struct {
	queries *sqlc.Queries
	clock   clock.PassiveClock
	tracer  trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for last_updated and expiry checks. Without
// one the stored timestamps come from the database clock and Now reads the
// host clock.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		s.tracer = tracer
	}
}

// NewStore creates a profile state store on top of the given connection or pool.
func NewStore(conn sqlc.DBTX, opts ...Option) *Store {
	s := &Store{
		queries: sqlc.New(conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	if s.clock == nil {
		return time.Now().UTC().Truncate(time.Microsecond)
	}
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// GetState returns the state of profileID. Unknown profiles are not paused.
func (s *Store) GetState(ctx context.Context, profileID string) (*State, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "profile.GetState",
		trace.WithAttributes(otel.AttrProfileID.String(profileID)))
	defer span.End()

	row, err := s.queries.GetProfileState(ctx, profileID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &State{ProfileID: profileID}, nil
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to read state of profile %s: %w", profileID, db.Classify(err))
	}
	return fromRow(row), nil
}

// SetPause pauses profileID until the given time. A zero until pauses
// indefinitely, which is only meant for manual pauses.
func (s *Store) SetPause(ctx context.Context, profileID string, until time.Time, reason string) error {
	ctx, span := otel.StartSpan(ctx, s.tracer, "profile.SetPause",
		trace.WithAttributes(otel.AttrProfileID.String(profileID), otel.AttrReason.String(reason)))
	defer span.End()

	if profileID == "" {
		return fmt.Errorf("%w: profile id is required", ErrInvalidArgument)
	}

	params := sqlc.UpsertPauseParams{
		ProfileID: profileID,
		Now:       db.Timestamp(s.clock),
	}
	if !until.IsZero() {
		u := until.UTC()
		params.PauseUntil = &u
	}
	if reason != "" {
		params.PauseReason = &reason
	}

	if err := s.queries.UpsertPause(ctx, params); err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to pause profile %s: %w", profileID, db.Classify(err))
	}

	slog.InfoContext(ctx, "Profile paused", "profile_id", profileID, "until", params.PauseUntil, "reason", reason)
	return nil
}

// ClearPause lifts any pause on profileID.
func (s *Store) ClearPause(ctx context.Context, profileID string) error {
	ctx, span := otel.StartSpan(ctx, s.tracer, "profile.ClearPause",
		trace.WithAttributes(otel.AttrProfileID.String(profileID)))
	defer span.End()

	if profileID == "" {
		return fmt.Errorf("%w: profile id is required", ErrInvalidArgument)
	}

	err := s.queries.ClearPause(ctx, sqlc.ClearPauseParams{ProfileID: profileID, Now: db.Timestamp(s.clock)})
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to clear pause of profile %s: %w", profileID, db.Classify(err))
	}

	slog.InfoContext(ctx, "Profile pause cleared", "profile_id", profileID)
	return nil
}

// Heartbeat records the worker currently driving profileID. Metadata is
// merged into the stored metadata.
func (s *Store) Heartbeat(ctx context.Context, profileID string, hb Heartbeat) error {
	if profileID == "" {
		return fmt.Errorf("%w: profile id is required", ErrInvalidArgument)
	}

	metadata, err := encodeMetadata(hb.Metadata)
	if err != nil {
		return err
	}

	params := sqlc.UpsertHeartbeatParams{
		ProfileID: profileID,
		Now:       db.Timestamp(s.clock),
		Metadata:  metadata,
	}
	if hb.WorkerPID > 0 && hb.WorkerPID <= math.MaxInt32 {
		pid := int32(hb.WorkerPID) // #nosec G115 -- range checked above
		params.ActiveWorkerPid = &pid
	}
	if hb.Action != "" {
		params.CurrentAction = &hb.Action
	}

	if err := s.queries.UpsertHeartbeat(ctx, params); err != nil {
		return fmt.Errorf("failed to record heartbeat for profile %s: %w", profileID, db.Classify(err))
	}
	return nil
}

// MergeMetadata merges values into the stored metadata of profileID.
func (s *Store) MergeMetadata(ctx context.Context, profileID string, values map[string]any) error {
	metadata, err := encodeMetadata(values)
	if err != nil {
		return err
	}

	err = s.queries.MergeProfileMetadata(ctx, sqlc.MergeProfileMetadataParams{
		ProfileID: profileID,
		Now:       db.Timestamp(s.clock),
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to merge metadata of profile %s: %w", profileID, db.Classify(err))
	}
	return nil
}

// List returns the state of every known profile.
func (s *Store) List(ctx context.Context) ([]*State, error) {
	rows, err := s.queries.ListProfileStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile states: %w", db.Classify(err))
	}
	states := make([]*State, 0, len(rows))
	for _, row := range rows {
		states = append(states, fromRow(row))
	}
	return states, nil
}

// ResumeExpired clears every pause whose expiry has passed and returns the
// resumed profiles. Reads already treat such pauses as lifted; this keeps
// the stored rows tidy for operators.
func (s *Store) ResumeExpired(ctx context.Context) ([]string, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "profile.ResumeExpired")
	defer span.End()

	resumed, err := s.queries.ResumeExpiredPauses(ctx, db.Timestamp(s.clock))
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to resume expired pauses: %w", db.Classify(err))
	}
	for _, id := range resumed {
		slog.InfoContext(ctx, "Profile pause expired", "profile_id", id)
	}
	return resumed, nil
}

func encodeMetadata(values map[string]any) ([]byte, error) {
	if len(values) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not JSON encodable: %v", ErrInvalidArgument, err)
	}
	return data, nil
}

func fromRow(row sqlc.ProfileRuntimeState) *State {
	st := &State{
		ProfileID:   row.ProfileID,
		Paused:      row.Paused,
		LastUpdated: row.LastUpdated.UTC(),
	}
	if row.PauseUntil != nil {
		u := row.PauseUntil.UTC()
		st.PauseUntil = &u
	}
	if row.PauseReason != nil {
		st.PauseReason = *row.PauseReason
	}
	if row.ActiveWorkerPid != nil {
		pid := int(*row.ActiveWorkerPid)
		st.ActiveWorkerPID = &pid
	}
	if row.CurrentAction != nil {
		st.CurrentAction = *row.CurrentAction
	}
	if len(row.Metadata) > 0 {
		var md map[string]any
		if err := json.Unmarshal(row.Metadata, &md); err != nil {
			slog.Warn("Ignoring malformed profile metadata", "profile_id", row.ProfileID, "error", err)
		} else if len(md) > 0 {
			st.Metadata = md
		}
	}
	return st
}
