package profile

import (
	"context"

	"github.com/ocrfarm/coordinator/internal/maintenance"
)

// Resumer is a maintenance task that clears expired pauses.
type Resumer struct {
	store *Store
}

var _ maintenance.Task = (*Resumer)(nil)

// NewResumer creates a Resumer for the given store.
func NewResumer(store *Store) *Resumer {
	return &Resumer{store: store}
}

// Name implements maintenance.Task.
func (*Resumer) Name() string { return "pause-resume" }

// Run implements maintenance.Task.
func (r *Resumer) Run(ctx context.Context) error {
	_, err := r.store.ResumeExpired(ctx)
	return err
}
