package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ocrfarm/coordinator/internal/coordinator"
	"github.com/ocrfarm/coordinator/internal/filtering"
)

// SucceededLister reports which files of a batch already have an OK record.
type SucceededLister interface {
	SucceededFiles(ctx context.Context, batchID string) (map[string]struct{}, error)
}

// DirScanner lists candidate units in a source directory.
type DirScanner struct {
	dir     string
	batchID string
	filter  filtering.NameFilter
	done    SucceededLister
}

// NewDirScanner creates a scanner for dir. When done is non-nil, files that
// already succeeded in batchID are skipped.
func NewDirScanner(dir, batchID string, filter filtering.NameFilter, done SucceededLister) *DirScanner {
	return &DirScanner{dir: dir, batchID: batchID, filter: filter, done: done}
}

// Dir returns the scanned directory.
func (s *DirScanner) Dir() string {
	return s.dir
}

// Scan returns the pending units in name order.
func (s *DirScanner) Scan(ctx context.Context) ([]coordinator.Unit, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory %s: %w", s.dir, err)
	}

	var succeeded map[string]struct{}
	if s.done != nil && s.batchID != "" {
		succeeded, err = s.done.SucceededFiles(ctx, s.batchID)
		if err != nil {
			return nil, err
		}
	}

	var units []coordinator.Unit
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if ok, reason := s.filter.ShouldInclude(name); !ok {
			slog.DebugContext(ctx, "Skipping file", "file", name, "reason", reason)
			continue
		}
		if _, ok := succeeded[name]; ok {
			continue
		}
		units = append(units, coordinator.Unit{
			ID:      name,
			Path:    filepath.Join(s.dir, name),
			BatchID: s.batchID,
		})
	}
	return units, nil
}

// Pass scans once and returns a Selector that yields each pending unit in
// turn, so a worker denied one unit moves on to the next.
func (s *DirScanner) Pass(ctx context.Context) (coordinator.Selector, error) {
	units, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &pass{units: units}, nil
}

type pass struct {
	mu    sync.Mutex
	units []coordinator.Unit
}

func (p *pass) Next(context.Context) (coordinator.Unit, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.units) == 0 {
		return coordinator.Unit{}, false, nil
	}
	u := p.units[0]
	p.units = p.units[1:]
	return u, true, nil
}
