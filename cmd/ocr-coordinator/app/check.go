package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ocrfarm/coordinator/internal/alerts"
	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
)

// errCorruptState makes check exit non-zero when it finds corrupt jobs.
var errCorruptState = errors.New("corrupt job state found")

func (c *cli) newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Find RUNNING jobs without an open run",
		Long: `Find jobs that are RUNNING without an open run, print them and raise a
corrupt_state alert for each one. Exits non-zero when any is found, which
makes it suitable for a cron job or a Kubernetes CronJob.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				corrupt, err := comps.Queue.FindCorrupt(ctx)
				if err != nil {
					return err
				}
				for _, job := range corrupt {
					_, err := comps.Alerts.Raise(ctx, alerts.Alert{
						Kind:           alerts.KindCorruptState,
						Message:        fmt.Sprintf("job %s is %s without an open run", job.ID, job.State),
						RequiresAction: true,
						Metadata: map[string]any{
							"job_id":  job.ID.String(),
							"job_dir": job.Dir,
							"state":   string(job.State),
						},
					})
					if err != nil {
						return err
					}
				}

				if err := c.renderJobs(cmd, corrupt); err != nil {
					return err
				}
				if len(corrupt) > 0 {
					return fmt.Errorf("%w: %d job(s)", errCorruptState, len(corrupt))
				}
				return nil
			})
		},
	}
	return cmd
}
