package app

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/queue"
	"github.com/ocrfarm/coordinator/internal/worker"
)

type jobDetail struct {
	queue.Job
	Entries []queue.Entry `json:"entries"`
	Runs    []queue.Run   `json:"runs"`
}

func (c *cli) newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage whole-directory jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	enqueue := &cobra.Command{
		Use:   "enqueue DIR",
		Short: "Add a READY job for a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, _ := cmd.Flags().GetStringSlice("entry")
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				id, err := comps.Queue.Enqueue(ctx, args[0], entries)
				if err != nil {
					return err
				}
				return c.showJob(ctx, cmd, comps, id)
			})
		},
	}
	enqueue.Flags().StringSlice("entry", nil, "Entry id within the job (repeatable)")

	claim := &cobra.Command{
		Use:   "claim",
		Short: "Claim the oldest READY job",
		Long: `Claim the oldest READY job and mark it RUNNING. Prints nothing and exits
successfully when no job is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			workerID, _ := cmd.Flags().GetString("worker-id")
			if workerID == "" {
				workerID = worker.LocalID("cli")
			}
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				job, err := comps.Queue.ClaimNext(ctx, workerID)
				if err != nil || job == nil {
					return err
				}
				return c.render(cmd.OutOrStdout(), job, func() ([]string, [][]string) {
					return []string{"Job", "Dir", "Run", "Worker"},
						[][]string{{job.ID.String(), job.Dir, job.RunID.String(), workerID}}
				})
			})
		},
	}
	claim.Flags().String("worker-id", "", "Worker id recorded on the run (defaults to host/pid/cli)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, oldest update first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, _ := cmd.Flags().GetString("state")
			limit, _ := cmd.Flags().GetInt("limit")
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				jobs, err := comps.Queue.List(ctx, queue.State(strings.ToUpper(state)), limit)
				if err != nil {
					return err
				}
				return c.renderJobs(cmd, jobs)
			})
		},
	}
	list.Flags().String("state", "", "Only list jobs in this state (NEW, READY, RUNNING, DONE, FAILED)")
	list.Flags().Int("limit", queue.DefaultListLimit, "Maximum number of jobs to list")

	show := &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show a job with its entries and runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				return c.showJob(ctx, cmd, comps, id)
			})
		},
	}

	counts := &cobra.Command{
		Use:   "counts",
		Short: "Count jobs per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				counts, err := comps.Queue.Counts(ctx)
				if err != nil {
					return err
				}
				return c.render(cmd.OutOrStdout(), counts, func() ([]string, [][]string) {
					states := make([]string, 0, len(counts))
					for s := range counts {
						states = append(states, string(s))
					}
					slices.Sort(states)
					rows := make([][]string, 0, len(states))
					for _, s := range states {
						rows = append(rows, []string{s, strconv.FormatInt(counts[queue.State(s)], 10)})
					}
					return []string{"State", "Jobs"}, rows
				})
			})
		},
	}

	requeue := &cobra.Command{
		Use:   "requeue JOB_ID",
		Short: "Move a FAILED job back to READY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				if err := comps.Queue.Requeue(ctx, id); err != nil {
					return err
				}
				return c.showJob(ctx, cmd, comps, id)
			})
		},
	}

	create := &cobra.Command{
		Use:   "create DIR",
		Short: "Add a NEW job that workers ignore until it is marked ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, _ := cmd.Flags().GetStringSlice("entry")
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				id, err := comps.Queue.Create(ctx, args[0])
				if err != nil {
					return err
				}
				if len(entries) > 0 {
					if err := comps.Queue.AppendEntries(ctx, id, entries); err != nil {
						return err
					}
				}
				return c.showJob(ctx, cmd, comps, id)
			})
		},
	}
	create.Flags().StringSlice("entry", nil, "Entry id within the job (repeatable)")

	ready := &cobra.Command{
		Use:   "ready JOB_ID",
		Short: "Move a NEW job to READY",
		Args:  cobra.ExactArgs(1),
		RunE: c.jobAction(func(ctx context.Context, comps *coordapp.Components, id uuid.UUID) error {
			return comps.Queue.MarkReady(ctx, id)
		}),
	}

	entries := &cobra.Command{
		Use:   "entries JOB_ID [ENTRY...]",
		Short: "List the entries of a job, adding any given entry ids first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				if len(args) > 1 {
					if err := comps.Queue.AppendEntries(ctx, id, args[1:]); err != nil {
						return err
					}
				}
				list, err := comps.Queue.Entries(ctx, id)
				if err != nil {
					return err
				}
				return c.render(cmd.OutOrStdout(), list, func() ([]string, [][]string) {
					rows := make([][]string, 0, len(list))
					for _, e := range list {
						rows = append(rows, []string{e.EntryID, string(e.State), formatTime(e.UpdatedAt), orDash(e.LastError)})
					}
					return []string{"Entry", "State", "Updated", "Last error"}, rows
				})
			})
		},
	}

	complete := &cobra.Command{
		Use:   "complete JOB_ID",
		Short: "Mark a RUNNING job DONE",
		Args:  cobra.ExactArgs(1),
		RunE: c.jobAction(func(ctx context.Context, comps *coordapp.Components, id uuid.UUID) error {
			return comps.Queue.Complete(ctx, id)
		}),
	}

	fail := &cobra.Command{
		Use:   "fail JOB_ID",
		Short: "Mark a RUNNING job FAILED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, _ := cmd.Flags().GetString("error")
			return c.jobAction(func(ctx context.Context, comps *coordapp.Components, id uuid.UUID) error {
				return comps.Queue.Fail(ctx, id, msg)
			})(cmd, args)
		},
	}
	fail.Flags().String("error", "", "Failure recorded on the job and its open run")
	_ = fail.MarkFlagRequired("error")

	cmd.AddCommand(enqueue, create, ready, entries, claim, complete, fail, list, show, counts, requeue)
	return cmd
}

// jobAction parses the job id argument, applies fn and shows the job.
func (c *cli) jobAction(
	fn func(ctx context.Context, comps *coordapp.Components, id uuid.UUID) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
			if err := fn(ctx, comps, id); err != nil {
				return err
			}
			return c.showJob(ctx, cmd, comps, id)
		})
	}
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id, nil
}

func (c *cli) showJob(ctx context.Context, cmd *cobra.Command, comps *coordapp.Components, id uuid.UUID) error {
	job, err := comps.Queue.Get(ctx, id)
	if err != nil {
		return err
	}
	entries, err := comps.Queue.Entries(ctx, id)
	if err != nil {
		return err
	}
	runs, err := comps.Queue.Runs(ctx, id)
	if err != nil {
		return err
	}

	detail := jobDetail{Job: *job, Entries: entries, Runs: runs}
	return c.render(cmd.OutOrStdout(), detail, func() ([]string, [][]string) {
		return jobTable([]queue.Job{detail.Job})
	})
}

func (c *cli) renderJobs(cmd *cobra.Command, jobs []queue.Job) error {
	return c.render(cmd.OutOrStdout(), jobs, func() ([]string, [][]string) {
		return jobTable(jobs)
	})
}

func jobTable(jobs []queue.Job) ([]string, [][]string) {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID.String(), j.Dir, string(j.State), formatTime(j.UpdatedAt), orDash(j.LastError),
		})
	}
	return []string{"Job", "Dir", "State", "Updated", "Last error"}, rows
}
