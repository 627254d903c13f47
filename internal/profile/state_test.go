package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectivePaused(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name       string
		state      *State
		want       bool
		retryAfter time.Duration
	}{
		{name: "nil_state", state: nil, want: false},
		{name: "unknown_profile", state: &State{ProfileID: "p"}, want: false},
		{name: "paused_until_future", state: &State{Paused: true, PauseUntil: &later}, want: true, retryAfter: time.Minute},
		{name: "paused_until_past", state: &State{Paused: true, PauseUntil: &earlier}, want: false},
		{name: "paused_until_exactly_now", state: &State{Paused: true, PauseUntil: &now}, want: false},
		{name: "indefinite_pause", state: &State{Paused: true}, want: true},
		{name: "expiry_without_flag", state: &State{PauseUntil: &later}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.state.EffectivePaused(now))
			if tt.state != nil {
				assert.Equal(t, tt.retryAfter, tt.state.RetryAfter(now))
			}
		})
	}
}

func TestWorkerVersion(t *testing.T) {
	t.Parallel()

	assert.Empty(t, (*State)(nil).WorkerVersion())
	assert.Empty(t, (&State{}).WorkerVersion())
	assert.Empty(t, (&State{Metadata: map[string]any{MetadataWorkerVersion: 3}}).WorkerVersion())
	assert.Equal(t, "v1.2.0", (&State{Metadata: map[string]any{MetadataWorkerVersion: "v1.2.0"}}).WorkerVersion())
}
