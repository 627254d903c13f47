package runs

import (
	"context"
	"time"

	"github.com/ocrfarm/coordinator/internal/maintenance"
)

// Pruner is a maintenance task that deletes run records older than the
// retention period.
type Pruner struct {
	recorder  *Recorder
	retention time.Duration
}

var _ maintenance.Task = (*Pruner)(nil)

// NewPruner creates a pruner keeping retention worth of run history.
func NewPruner(recorder *Recorder, retention time.Duration) *Pruner {
	return &Pruner{recorder: recorder, retention: retention}
}

// Name implements maintenance.Task.
func (*Pruner) Name() string { return "run-retention" }

// Run implements maintenance.Task.
func (p *Pruner) Run(ctx context.Context) error {
	_, err := p.recorder.Prune(ctx, p.retention)
	return err
}
