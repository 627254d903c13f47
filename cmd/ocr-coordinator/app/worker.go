package app

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/logger"
	"github.com/ocrfarm/coordinator/internal/worker"
)

const releaseTimeout = 10 * time.Second

func (c *cli) newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker loop",
		Long: `Run a worker loop for one browser profile. Use with 'files' or 'queue':

  files  scans worker.sourceDir and processes each image file under a unit lock
  queue  claims whole-directory jobs from the job queue`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	cmd.PersistentFlags().Bool("once", false, "Stop when there is nothing left to do instead of polling")
	cmd.PersistentFlags().String("profile", "", "Profile to work for (overrides worker.profileId)")
	cmd.PersistentFlags().String("batch", "", "Batch id for run records (overrides worker.batchId)")

	files := &cobra.Command{
		Use:   "files",
		Short: "Process the image files of the source directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runWorker(cmd, func(comps *coordapp.Components, cfg *config.Config, once bool) (runner, error) {
				return comps.NewFileWorker(cfg, once)
			})
		},
	}
	files.Flags().String("source-dir", "", "Directory to scan (overrides worker.sourceDir)")

	queue := &cobra.Command{
		Use:   "queue",
		Short: "Claim and execute jobs from the job queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runWorker(cmd, func(comps *coordapp.Components, cfg *config.Config, once bool) (runner, error) {
				return comps.NewQueueWorker(cfg, once)
			})
		},
	}

	cmd.AddCommand(files, queue)
	return cmd
}

type runner interface {
	Run(ctx context.Context) error
}

func (c *cli) runWorker(
	cmd *cobra.Command,
	build func(comps *coordapp.Components, cfg *config.Config, once bool) (runner, error),
) error {
	ctx := cmd.Context()

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	applyWorkerOverrides(cmd, cfg)
	if cfg.Worker == nil || cfg.Worker.ProfileID == "" {
		return errors.New("worker.profileId is required")
	}
	release, err := worker.LockInstance(os.TempDir(), cfg.Worker.ProfileID)
	if err != nil {
		return err
	}
	defer release()

	tel, shutdownTelemetry, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	comps, closeFn, err := c.open(ctx, cfg,
		coordapp.WithComponentsTracerProvider(tel.TracerProvider()),
		coordapp.WithComponentsMeterProvider(tel.MeterProvider()),
	)
	if err != nil {
		return err
	}
	defer closeFn()

	ownerID := worker.LocalID(cfg.Worker.ProfileID)
	defer releaseLeases(ctx, comps, ownerID)

	once, err := cmd.Flags().GetBool("once")
	if err != nil {
		return err
	}
	w, err := build(comps, cfg, once)
	if err != nil {
		return err
	}

	logger.Infow("Worker starting", "command", cmd.Name(), "profile_id", cfg.Worker.ProfileID, "once", once)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infow("Worker stopped", "command", cmd.Name(), "profile_id", cfg.Worker.ProfileID)
	return nil
}

// releaseLeases drops the unit locks ownerID still holds once the loop exits.
func releaseLeases(ctx context.Context, comps *coordapp.Components, ownerID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	units, err := comps.Locks.ReleaseAll(ctx, ownerID)
	if err != nil {
		logger.Errorw("Failed to release worker locks", "owner_id", ownerID, "error", err)
		return
	}
	if len(units) > 0 {
		logger.Infow("Released worker locks", "owner_id", ownerID, "count", len(units))
	}
}

// applyWorkerOverrides copies explicitly set flags over the worker section.
func applyWorkerOverrides(cmd *cobra.Command, cfg *config.Config) {
	overrides := map[string]func(wc *config.WorkerConfig, v string){
		"profile":    func(wc *config.WorkerConfig, v string) { wc.ProfileID = v },
		"batch":      func(wc *config.WorkerConfig, v string) { wc.BatchID = v },
		"source-dir": func(wc *config.WorkerConfig, v string) { wc.SourceDir = v },
	}
	for name, set := range overrides {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if cfg.Worker == nil {
			cfg.Worker = &config.WorkerConfig{}
		}
		set(cfg.Worker, flag.Value.String())
	}
}
