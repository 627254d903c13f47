// Package alerts stores operator-facing alerts raised by workers and checks.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"k8s.io/utils/clock"

	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/db/sqlc"
)

// Alert kinds.
const (
	KindExecutorFailure = "executor_failure"
	KindCorruptState    = "corrupt_state"
	KindRateLimited     = "rate_limited"
)

// ErrAlertNotFound is returned when resolving an id that does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// Alert is a notice that may need operator attention.
type Alert struct {
	ID             int64          `json:"id"`
	ProfileID      string         `json:"profile_id,omitempty"`
	Kind           string         `json:"kind"`
	Message        string         `json:"message"`
	RequiresAction bool           `json:"requires_action"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// Store reads and writes the alerts table.
type Store struct {
	queries *sqlc.Queries
	clock   clock.PassiveClock
}

// NewStore creates an alert store. A nil clock uses the real clock.
func NewStore(conn sqlc.DBTX, c clock.PassiveClock) *Store {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Store{queries: sqlc.New(conn), clock: c}
}

// Raise stores a new unresolved alert and returns its id. Text fields are
// made valid UTF-8 before they are stored.
func (s *Store) Raise(ctx context.Context, a Alert) (int64, error) {
	if a.Kind == "" || a.Message == "" {
		return 0, fmt.Errorf("alert kind and message are required")
	}

	params := sqlc.InsertAlertParams{
		Kind:           db.CleanText(a.Kind),
		Message:        db.CleanText(a.Message),
		RequiresAction: a.RequiresAction,
		CreatedAt:      s.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if a.ProfileID != "" {
		params.ProfileID = db.CleanTextPtr(&a.ProfileID)
	}
	if len(a.Metadata) > 0 {
		md, err := json.Marshal(a.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode alert metadata: %w", err)
		}
		params.Metadata = md
	}

	id, err := s.queries.InsertAlert(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("failed to raise alert: %w", db.Classify(err))
	}

	slog.WarnContext(ctx, "Alert raised", "id", id, "kind", a.Kind, "profile_id", a.ProfileID, "message", a.Message)
	return id, nil
}

// ListUnresolved returns unresolved alerts, newest first. An empty profileID
// lists alerts for every profile.
func (s *Store) ListUnresolved(ctx context.Context, profileID string) ([]Alert, error) {
	var filter *string
	if profileID != "" {
		filter = &profileID
	}
	rows, err := s.queries.ListUnresolvedAlerts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", db.Classify(err))
	}
	out := make([]Alert, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// Resolve marks an alert resolved. Resolving an already resolved alert is a
// no-op.
func (s *Store) Resolve(ctx context.Context, id int64) error {
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	n, err := s.queries.ResolveAlert(ctx, sqlc.ResolveAlertParams{ID: id, ResolvedAt: &now})
	if err != nil {
		return fmt.Errorf("failed to resolve alert %d: %w", id, db.Classify(err))
	}
	if n > 0 {
		return nil
	}

	if _, err := s.queries.GetAlert(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrAlertNotFound, id)
		}
		return fmt.Errorf("failed to read alert %d: %w", id, db.Classify(err))
	}
	return nil
}

func fromRow(row sqlc.Alert) Alert {
	a := Alert{
		ID:             row.ID,
		Kind:           row.Kind,
		Message:        row.Message,
		RequiresAction: row.RequiresAction,
		CreatedAt:      row.CreatedAt.UTC(),
	}
	if row.ProfileID != nil {
		a.ProfileID = *row.ProfileID
	}
	if row.ResolvedAt != nil {
		r := row.ResolvedAt.UTC()
		a.ResolvedAt = &r
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &a.Metadata); err != nil {
			slog.Warn("Ignoring malformed alert metadata", "id", row.ID, "error", err)
		}
	}
	return a
}
