package app

import (
	"fmt"
	"os"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/ocrfarm/coordinator/internal/alerts"
	v1 "github.com/ocrfarm/coordinator/internal/api/v1"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/coordinator"
	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/filtering"
	"github.com/ocrfarm/coordinator/internal/lock"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/queue"
	"github.com/ocrfarm/coordinator/internal/runs"
	"github.com/ocrfarm/coordinator/internal/telemetry"
	"github.com/ocrfarm/coordinator/internal/versions"
	"github.com/ocrfarm/coordinator/internal/worker"
)

// TracerName is the instrumentation scope for the coordination stores.
const TracerName = "github.com/ocrfarm/coordinator"

// Components groups the stores every command builds over one pool.
type Components struct {
	Pool     db.TxBeginner
	Locks    *lock.Manager
	Profiles *profile.Store
	Queue    *queue.Queue
	Runs     *runs.Recorder
	Alerts   *alerts.Store

	clock   clock.PassiveClock
	tracer  trace.Tracer
	metrics *telemetry.CoordinatorMetrics
}

// ComponentsOption configures NewComponents.
type ComponentsOption func(*componentsConfig)

type componentsConfig struct {
	clock          clock.PassiveClock
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithClock sets the clock used for every timestamp the stores write. Without
// one, lock, queue and profile timestamps come from the database clock.
func WithClock(c clock.PassiveClock) ComponentsOption {
	return func(cfg *componentsConfig) {
		cfg.clock = c
	}
}

// WithComponentsTracerProvider enables tracing of store calls.
func WithComponentsTracerProvider(tp trace.TracerProvider) ComponentsOption {
	return func(cfg *componentsConfig) {
		cfg.tracerProvider = tp
	}
}

// WithComponentsMeterProvider enables lock, queue and attempt metrics.
func WithComponentsMeterProvider(mp metric.MeterProvider) ComponentsOption {
	return func(cfg *componentsConfig) {
		cfg.meterProvider = mp
	}
}

// NewComponents builds the stores over pool.
func NewComponents(pool db.TxBeginner, opts ...ComponentsOption) (*Components, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}

	cfg := &componentsConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	// Lock, queue and profile stores get a nil clock unless one was injected.
	var host clock.PassiveClock = clock.RealClock{}
	if cfg.clock != nil {
		host = cfg.clock
	}

	var tracer trace.Tracer
	if cfg.tracerProvider != nil {
		tracer = cfg.tracerProvider.Tracer(TracerName)
	}

	lockMetrics, err := telemetry.NewLockMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock metrics: %w", err)
	}
	queueMetrics, err := telemetry.NewQueueMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue metrics: %w", err)
	}
	coordMetrics, err := telemetry.NewCoordinatorMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator metrics: %w", err)
	}

	return &Components{
		Pool: pool,
		Locks: lock.NewManager(pool,
			lock.WithClock(cfg.clock),
			lock.WithTracer(tracer),
			lock.WithMetrics(lockMetrics),
		),
		Profiles: profile.NewStore(pool,
			profile.WithClock(cfg.clock),
			profile.WithTracer(tracer),
		),
		Queue: queue.New(pool,
			queue.WithClock(cfg.clock),
			queue.WithTracer(tracer),
			queue.WithMetrics(queueMetrics),
		),
		Runs: runs.NewRecorder(pool,
			runs.WithClock(host),
			runs.WithTracer(tracer),
		),
		Alerts:  alerts.NewStore(pool, host),
		clock:   host,
		tracer:  tracer,
		metrics: coordMetrics,
	}, nil
}

// Services exposes the stores to the admin API.
func (c *Components) Services() v1.Services {
	return v1.Services{
		Profiles: c.Profiles,
		Locks:    c.Locks,
		Jobs:     c.Queue,
		Runs:     c.Runs,
		Alerts:   c.Alerts,
	}
}

// NewCoordinator builds a coordinator for profileID that runs executor under
// the lock and pause policy of cfg.
func (c *Components) NewCoordinator(
	cfg *config.Config,
	profileID string,
	executor coordinator.Executor,
	opts ...coordinator.Option,
) *coordinator.Coordinator {
	var (
		pause   *config.PauseConfig
		workers *config.WorkerConfig
	)
	if cfg != nil {
		pause, workers = cfg.Pause, cfg.Worker
	}

	host, _ := os.Hostname()
	base := []coordinator.Option{
		coordinator.WithOwnerID(worker.LocalID(profileID)),
		coordinator.WithWorkerInfo(host, os.Getpid(), versions.GetVersionInfo().Version),
		coordinator.WithClock(c.clock),
		coordinator.WithPausePolicy(pause.GetBuffer(), pause.GetFallback()),
		coordinator.WithExecutionTimeout(workers.GetExecutionTimeout()),
		coordinator.WithAlerter(c.Alerts),
		coordinator.WithTracer(c.tracer),
		coordinator.WithMetrics(c.metrics),
	}
	return coordinator.New(c.Locks, c.Profiles, c.Runs, executor, append(base, opts...)...)
}

// NewFileWorker builds the file-mode worker described by cfg.Worker. With
// once set it stops after the first pass that finds nothing to do; otherwise
// it watches the source directory between passes.
func (c *Components) NewFileWorker(cfg *config.Config, once bool) (*worker.FileWorker, error) {
	wc, err := workerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if wc.SourceDir == "" {
		return nil, fmt.Errorf("worker.sourceDir is required in file mode")
	}

	filter, err := filtering.NewFileFilter(wc.Include, wc.Exclude, filtering.DefaultImageSuffixes)
	if err != nil {
		return nil, fmt.Errorf("invalid file filter: %w", err)
	}
	executor, err := worker.NewCommandExecutor(wc.Command)
	if err != nil {
		return nil, err
	}

	scanner := worker.NewDirScanner(wc.SourceDir, wc.BatchID, filter, c.Runs)
	return worker.NewFileWorker(wc.ProfileID, scanner, c.NewCoordinator(cfg, wc.ProfileID, executor),
		worker.WithPollInterval(wc.GetPollInterval()),
		worker.WithOnce(once),
		worker.WithWatch(!once),
	), nil
}

// NewQueueWorker builds the queue-mode worker described by cfg.Worker.
func (c *Components) NewQueueWorker(cfg *config.Config, once bool) (*worker.QueueWorker, error) {
	wc, err := workerConfig(cfg)
	if err != nil {
		return nil, err
	}

	executor, err := worker.NewCommandExecutor(wc.Command)
	if err != nil {
		return nil, err
	}

	return worker.NewQueueWorker(worker.LocalID(wc.ProfileID), c.Queue, executor,
		worker.WithQueuePollInterval(wc.GetPollInterval()),
		worker.WithJobTimeout(wc.GetExecutionTimeout()),
		worker.WithQueueOnce(once),
		worker.WithRunRecorder(c.Runs),
		worker.WithQueueClock(c.clock),
	), nil
}

func workerConfig(cfg *config.Config) (*config.WorkerConfig, error) {
	if cfg == nil || cfg.Worker == nil {
		return nil, fmt.Errorf("worker configuration is required")
	}
	if cfg.Worker.ProfileID == "" {
		return nil, fmt.Errorf("worker.profileId is required")
	}
	if len(cfg.Worker.Command) == 0 {
		return nil, fmt.Errorf("worker.command is required")
	}
	return cfg.Worker, nil
}
