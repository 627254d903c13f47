package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/lock"
)

type lockView struct {
	lock.Lock
	Age   string `json:"age"`
	Stale bool   `json:"stale"`
}

type sweepView struct {
	Removed   int    `json:"removed"`
	Threshold string `json:"threshold"`
}

func (c *cli) newLocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and sweep unit locks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List held locks, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			staleOnly, _ := cmd.Flags().GetBool("stale")
			return c.withComponents(cmd, func(ctx context.Context, cfg *config.Config, comps *coordapp.Components) error {
				return c.listLocks(ctx, cmd, cfg, comps, staleOnly)
			})
		},
	}
	list.Flags().Bool("stale", false, "Only list locks older than locks.stalenessThreshold")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Remove locks older than the staleness threshold",
		Long: `Remove locks older than the staleness threshold. Locks are only ever
removed by their owner or by a sweep, so run this after a worker crash if the
serve loop is not running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			override, _ := cmd.Flags().GetDuration("threshold")
			return c.withComponents(cmd, func(ctx context.Context, cfg *config.Config, comps *coordapp.Components) error {
				threshold := cfg.Locks.GetStalenessThreshold()
				switch {
				case override < 0:
					return errors.New("--threshold must be positive")
				case override > 0:
					threshold = override
				}

				removed, err := comps.Locks.Sweep(ctx, threshold)
				if err != nil {
					return err
				}
				v := sweepView{Removed: removed, Threshold: threshold.String()}
				return c.render(cmd.OutOrStdout(), v, func() ([]string, [][]string) {
					return []string{"Removed", "Threshold"}, [][]string{{strconv.Itoa(v.Removed), v.Threshold}}
				})
			})
		},
	}
	sweep.Flags().Duration("threshold", 0, "Staleness threshold (defaults to locks.stalenessThreshold)")

	cmd.AddCommand(list, sweep)
	return cmd
}

func (c *cli) listLocks(
	ctx context.Context,
	cmd *cobra.Command,
	cfg *config.Config,
	comps *coordapp.Components,
	staleOnly bool,
) error {
	locks, err := comps.Locks.List(ctx)
	if err != nil {
		return err
	}

	now := comps.Profiles.Now()
	threshold := cfg.Locks.GetStalenessThreshold()
	views := make([]lockView, 0, len(locks))
	for _, l := range locks {
		age := now.Sub(l.AcquiredAt)
		stale := age >= threshold
		if staleOnly && !stale {
			continue
		}
		views = append(views, lockView{Lock: l, Age: age.Round(time.Second).String(), Stale: stale})
	}

	return c.render(cmd.OutOrStdout(), views, func() ([]string, [][]string) {
		rows := make([][]string, 0, len(views))
		for _, v := range views {
			rows = append(rows, []string{v.UnitID, v.OwnerID, formatTime(v.AcquiredAt), v.Age, strconv.FormatBool(v.Stale)})
		}
		return []string{"Unit", "Owner", "Acquired", "Age", "Stale"}, rows
	})
}
