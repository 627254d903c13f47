// Package profile stores per-profile runtime state: rate-limit pauses,
// manual pauses and worker heartbeats.
package profile

import (
	"time"
)

// Pause reasons. Rate-limit pauses always carry an expiry; manual pauses may
// be indefinite.
const (
	ReasonRateLimit = "rate_limit"
	ReasonManual    = "manual"
)

// MetadataWorkerVersion is the metadata key holding the build version of the
// worker that last sent a heartbeat.
const MetadataWorkerVersion = "worker_version"

// State is the runtime state of one profile. A profile that has never been
// written has the zero State with only ProfileID set.
type State struct {
	ProfileID       string         `json:"profile_id"`
	Paused          bool           `json:"paused"`
	PauseUntil      *time.Time     `json:"pause_until,omitempty"`
	PauseReason     string         `json:"pause_reason,omitempty"`
	LastUpdated     time.Time      `json:"last_updated,omitzero"`
	ActiveWorkerPID *int           `json:"active_worker_pid,omitempty"`
	CurrentAction   string         `json:"current_action,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// EffectivePaused reports whether the profile is paused at now. A pause whose
// expiry has passed reads as not paused even though the row still says
// paused; nothing is written. A pause without an expiry lasts until cleared.
func (s *State) EffectivePaused(now time.Time) bool {
	if s == nil || !s.Paused {
		return false
	}
	if s.PauseUntil == nil {
		return true
	}
	return now.Before(*s.PauseUntil)
}

// RetryAfter returns how long until the pause lifts, or zero when the
// profile is not paused or the pause is indefinite.
func (s *State) RetryAfter(now time.Time) time.Duration {
	if !s.EffectivePaused(now) || s.PauseUntil == nil {
		return 0
	}
	return s.PauseUntil.Sub(now)
}

// WorkerVersion returns the version reported by the last heartbeat, if any.
func (s *State) WorkerVersion() string {
	if s == nil {
		return ""
	}
	v, _ := s.Metadata[MetadataWorkerVersion].(string)
	return v
}

// Heartbeat is the observational status a worker reports for its profile.
type Heartbeat struct {
	WorkerPID int
	Action    string
	Metadata  map[string]any
}
