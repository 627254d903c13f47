package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ocrfarm/coordinator/internal/alerts"
	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
)

func (c *cli) newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List and resolve operator alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List unresolved alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profileID, _ := cmd.Flags().GetString("profile")
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				list, err := comps.Alerts.ListUnresolved(ctx, profileID)
				if err != nil {
					return err
				}
				return c.renderAlerts(cmd, list)
			})
		},
	}
	list.Flags().String("profile", "", "Only alerts of this profile")

	resolve := &cobra.Command{
		Use:   "resolve ALERT_ID...",
		Short: "Mark alerts resolved",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid alert id %q", arg)
				}
				ids = append(ids, id)
			}
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				for _, id := range ids {
					if err := comps.Alerts.Resolve(ctx, id); err != nil {
						return fmt.Errorf("alert %d: %w", id, err)
					}
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Resolved alert %d\n", id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, resolve)
	return cmd
}

func (c *cli) renderAlerts(cmd *cobra.Command, list []alerts.Alert) error {
	return c.render(cmd.OutOrStdout(), list, func() ([]string, [][]string) {
		rows := make([][]string, 0, len(list))
		for _, a := range list {
			rows = append(rows, []string{
				strconv.FormatInt(a.ID, 10),
				orDash(a.ProfileID),
				a.Kind,
				strconv.FormatBool(a.RequiresAction),
				a.Message,
				formatTime(a.CreatedAt),
			})
		}
		return []string{"ID", "Profile", "Kind", "Action", "Message", "Created"}, rows
	})
}
