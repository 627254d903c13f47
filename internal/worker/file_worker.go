package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"

	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/coordinator"
	"github.com/ocrfarm/coordinator/internal/db"
)

// Attempter runs one coordinated work attempt.
type Attempter interface {
	TryWork(ctx context.Context, profileID string, selector coordinator.Selector) (*coordinator.Outcome, error)
}

// FileWorker processes the image files of one source directory for one
// profile until its context is cancelled.
type FileWorker struct {
	profileID string
	scanner   *DirScanner
	attempter Attempter
	poll      time.Duration
	once      bool
	watch     bool
	backoff   *backoff.ExponentialBackOff
	sleep     func(ctx context.Context, d time.Duration, wake <-chan struct{})
}

// FileWorkerOption configures a FileWorker.
type FileWorkerOption func(*FileWorker)

// WithPollInterval sets how long the worker idles when nothing is pending.
func WithPollInterval(d time.Duration) FileWorkerOption {
	return func(w *FileWorker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithOnce makes Run return after the first pass over the directory.
func WithOnce(once bool) FileWorkerOption {
	return func(w *FileWorker) {
		w.once = once
	}
}

// WithWatch enables fsnotify wakeups when files appear in the directory.
func WithWatch(watch bool) FileWorkerOption {
	return func(w *FileWorker) {
		w.watch = watch
	}
}

// NewFileWorker creates a FileWorker.
func NewFileWorker(profileID string, scanner *DirScanner, attempter Attempter, opts ...FileWorkerOption) *FileWorker {
	w := &FileWorker{
		profileID: profileID,
		scanner:   scanner,
		attempter: attempter,
		poll:      config.DefaultPollInterval,
		watch:     true,
		backoff:   newBackoff(),
		sleep:     sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 2 * time.Minute
	return b
}

// Run works until ctx is cancelled, or after one pass in once mode.
// Transient store errors are retried with exponential backoff; other errors
// stop the worker.
func (w *FileWorker) Run(ctx context.Context) error {
	var wake <-chan struct{}
	if w.watch && !w.once {
		ch, stop, err := watchDir(ctx, w.scanner.Dir())
		if err != nil {
			slog.WarnContext(ctx, "File watching unavailable, polling only", "dir", w.scanner.Dir(), "error", err)
		} else {
			defer stop()
			wake = ch
		}
	}

	slog.InfoContext(ctx, "File worker started", "profile_id", w.profileID, "dir", w.scanner.Dir())
	for {
		wait, err := w.Pass(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if w.once || !db.IsTransient(err) {
				return err
			}
			wait = w.backoff.NextBackOff()
			slog.WarnContext(ctx, "Store unavailable, backing off", "profile_id", w.profileID, "wait", wait, "error", err)
		} else {
			w.backoff.Reset()
		}

		if w.once {
			return nil
		}
		w.sleep(ctx, wait, wake)
	}
}

// Pass offers every pending unit to the coordinator once and returns how
// long to wait before the next pass.
func (w *FileWorker) Pass(ctx context.Context) (time.Duration, error) {
	selector, err := w.scanner.Pass(ctx)
	if err != nil {
		return 0, err
	}

	for ctx.Err() == nil {
		out, err := w.attempter.TryWork(ctx, w.profileID, selector)
		if err != nil {
			return 0, fmt.Errorf("work attempt failed: %w", err)
		}

		switch {
		case out.Proceeded():
			continue
		case out.Reason == coordinator.ReasonAlreadyLocked:
			slog.DebugContext(ctx, "Unit held by another worker", "unit_id", out.Unit.ID)
			continue
		case out.Reason == coordinator.ReasonRateLimited:
			wait := out.RetryAfter
			if wait <= 0 {
				wait = w.poll
			}
			slog.InfoContext(ctx, "Profile paused", "profile_id", w.profileID, "retry_after", wait)
			return wait, nil
		default:
			return w.poll, nil
		}
	}
	return 0, nil
}

func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-wake:
	}
}

// watchDir returns a channel that receives a value when files are created
// or renamed into dir.
func watchDir(ctx context.Context, dir string) (<-chan struct{}, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Write) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "File watcher error", "dir", dir, "error", err)
			}
		}
	}()
	return wake, func() { _ = watcher.Close() }, nil
}
