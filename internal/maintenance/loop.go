// Package maintenance runs periodic housekeeping tasks such as stale lock
// sweeps and pause expiry.
package maintenance

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Task is one unit of periodic housekeeping.
type Task interface {
	// Name identifies the task in logs.
	Name() string
	// Run performs one pass. Errors are logged and the loop continues.
	Run(ctx context.Context) error
}

// Loop runs a Task on a fixed interval with jitter until stopped.
type Loop interface {
	// Start runs the task immediately and then on every tick.
	// Blocks until the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits for the current pass to finish.
	Stop() error
}

type defaultLoop struct {
	task     Task
	interval time.Duration
	jitter   time.Duration

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures a Loop.
type Option func(*defaultLoop)

// WithJitter sets the maximum random offset applied to each interval.
// Defaults to a tenth of the interval.
func WithJitter(jitter time.Duration) Option {
	return func(l *defaultLoop) {
		l.jitter = jitter
	}
}

// New creates a loop running task every interval.
func New(task Task, interval time.Duration, opts ...Option) Loop {
	l := &defaultLoop{
		task:     task,
		interval: interval,
		jitter:   interval / 10,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// nextInterval returns the interval with a random offset in [-jitter, +jitter]
// so that hosts started together do not hit the database in lockstep.
func (l *defaultLoop) nextInterval() time.Duration {
	if l.jitter <= 0 {
		return l.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	offset := time.Duration(rand.Int64N(int64(2*l.jitter))) - l.jitter
	return max(l.interval+offset, time.Millisecond)
}

func (l *defaultLoop) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancelFunc = cancel
	l.mu.Unlock()
	defer func() {
		cancel()
		close(l.done)
		slog.Info("Maintenance loop stopped", "task", l.task.Name())
	}()

	slog.Info("Starting maintenance loop", "task", l.task.Name(), "interval", l.interval)

	timer := time.NewTimer(l.nextInterval())
	defer timer.Stop()

	l.runOnce(loopCtx)

	for {
		select {
		case <-timer.C:
			l.runOnce(loopCtx)
			timer.Reset(l.nextInterval())
		case <-loopCtx.Done():
			return nil
		}
	}
}

func (l *defaultLoop) Stop() error {
	l.mu.Lock()
	cancel := l.cancelFunc
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-l.done
	}
	return nil
}

func (l *defaultLoop) runOnce(ctx context.Context) {
	if err := l.task.Run(ctx); err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "Maintenance task failed", "task", l.task.Name(), "error", err)
	}
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

// Name implements Task.
func (t TaskFunc) Name() string { return t.TaskName }

// Run implements Task.
func (t TaskFunc) Run(ctx context.Context) error { return t.Fn(ctx) }
