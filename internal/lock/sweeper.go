package lock

import (
	"context"
	"time"

	"github.com/ocrfarm/coordinator/internal/maintenance"
)

// Sweeper is a maintenance task that removes stale locks and refreshes the
// held-locks gauge.
type Sweeper struct {
	manager   *Manager
	threshold time.Duration
}

var _ maintenance.Task = (*Sweeper)(nil)

// NewSweeper creates a sweeper removing locks at least threshold old.
func NewSweeper(manager *Manager, threshold time.Duration) *Sweeper {
	return &Sweeper{manager: manager, threshold: threshold}
}

// Name implements maintenance.Task.
func (*Sweeper) Name() string { return "lock-sweep" }

// Run implements maintenance.Task.
func (s *Sweeper) Run(ctx context.Context) error {
	if _, err := s.manager.Sweep(ctx, s.threshold); err != nil {
		return err
	}
	_, err := s.manager.Count(ctx)
	return err
}
