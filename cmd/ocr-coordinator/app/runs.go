package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/runs"
)

const defaultSummaryWindow = 24 * time.Hour

type summaryView struct {
	Since time.Time      `json:"since"`
	Rows  []runs.Summary `json:"rows"`
}

func (c *cli) newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query run records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List run records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f runs.Filter
			f.ProfileID, _ = cmd.Flags().GetString("profile")
			f.BatchID, _ = cmd.Flags().GetString("batch")
			f.FileName, _ = cmd.Flags().GetString("file")
			f.Status, _ = cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				records, err := comps.Runs.List(ctx, f, limit)
				if err != nil {
					return err
				}
				return c.render(cmd.OutOrStdout(), records, func() ([]string, [][]string) {
					rows := make([][]string, 0, len(records))
					for _, r := range records {
						rows = append(rows, []string{
							strconv.FormatInt(r.ID, 10),
							formatString(r.ProfileID),
							formatString(r.BatchID),
							formatString(r.FileName),
							formatString(r.Status),
							formatDuration(r.Duration()),
							formatString(r.ErrorType),
							formatTime(r.CreatedAt),
						})
					}
					return []string{"ID", "Profile", "Batch", "File", "Status", "Duration", "Error", "Created"}, rows
				})
			})
		},
	}
	list.Flags().String("profile", "", "Only records of this profile")
	list.Flags().String("batch", "", "Only records of this batch")
	list.Flags().String("file", "", "Only records of this file")
	list.Flags().String("status", "", "Only records with this status")
	list.Flags().Int("limit", runs.DefaultListLimit, "Maximum number of records to list")

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Count records and average durations per profile and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			window, _ := cmd.Flags().GetDuration("since")
			if window <= 0 {
				return errors.New("--since must be positive")
			}
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				since := comps.Profiles.Now().Add(-window)
				rows, err := comps.Runs.Summary(ctx, since)
				if err != nil {
					return err
				}
				v := summaryView{Since: since, Rows: rows}
				return c.render(cmd.OutOrStdout(), v, func() ([]string, [][]string) {
					out := make([][]string, 0, len(rows))
					for _, s := range rows {
						out = append(out, []string{
							orDash(s.ProfileID), orDash(s.Status), strconv.FormatInt(s.Total, 10), formatDuration(s.AvgDuration),
							strconv.FormatInt(s.TokensTotal, 10),
						})
					}
					return []string{"Profile", "Status", "Total", "Avg duration", "Tokens"}, out
				})
			})
		},
	}
	summary.Flags().Duration("since", defaultSummaryWindow, "How far back to summarize")

	cmd.AddCommand(list, summary)
	return cmd
}
