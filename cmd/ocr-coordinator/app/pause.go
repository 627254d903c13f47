package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/versions"
)

// profileView is a profile state plus values derived at read time.
type profileView struct {
	*profile.State
	EffectivePaused bool   `json:"effective_paused"`
	RetryAfter      string `json:"retry_after,omitempty"`
	WorkerOutdated  bool   `json:"worker_outdated,omitempty"`
}

func newProfileView(s *profile.State, now time.Time) profileView {
	v := profileView{
		State:           s,
		EffectivePaused: s.EffectivePaused(now),
		WorkerOutdated:  versions.Outdated(s.WorkerVersion(), versions.GetVersionInfo().Version),
	}
	if d := s.RetryAfter(now); d > 0 {
		v.RetryAfter = d.Round(time.Second).String()
	}
	return v
}

func (c *cli) newPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Inspect and change profile pauses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	set := &cobra.Command{
		Use:   "set PROFILE",
		Short: "Pause a profile",
		Long: `Pause a profile so workers stop acquiring work for it.

With --until or --for the pause lifts by itself; with neither it lasts until
'pause clear' is run.`,
		Args: cobra.ExactArgs(1),
		RunE: c.runPauseSet,
	}
	set.Flags().String("until", "", "Time the pause lifts (RFC3339)")
	set.Flags().Duration("for", 0, "How long the pause lasts, e.g. 30m")
	set.Flags().String("reason", profile.ReasonManual, "Pause reason")
	set.MarkFlagsMutuallyExclusive("until", "for")

	clearCmd := &cobra.Command{
		Use:   "clear PROFILE",
		Short: "Lift a profile pause",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				if err := comps.Profiles.ClearPause(ctx, args[0]); err != nil {
					return err
				}
				return c.showProfiles(ctx, cmd, comps, args)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show [PROFILE...]",
		Short: "Show the state of profiles; all known profiles without arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				return c.showProfiles(ctx, cmd, comps, args)
			})
		},
	}

	annotate := &cobra.Command{
		Use:   "annotate PROFILE KEY=VALUE...",
		Short: "Merge key/value pairs into the metadata of a profile",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseMetadata(args[1:])
			if err != nil {
				return err
			}
			return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
				if err := comps.Profiles.MergeMetadata(ctx, args[0], values); err != nil {
					return err
				}
				return c.showProfiles(ctx, cmd, comps, args[:1])
			})
		},
	}

	cmd.AddCommand(set, clearCmd, show, annotate)
	return cmd
}

func (c *cli) runPauseSet(cmd *cobra.Command, args []string) error {
	untilFlag, _ := cmd.Flags().GetString("until")
	duration, _ := cmd.Flags().GetDuration("for")
	reason, _ := cmd.Flags().GetString("reason")

	return c.withComponents(cmd, func(ctx context.Context, _ *config.Config, comps *coordapp.Components) error {
		until, err := pauseUntil(comps.Profiles.Now(), untilFlag, duration)
		if err != nil {
			return err
		}
		if err := comps.Profiles.SetPause(ctx, args[0], until, reason); err != nil {
			return err
		}
		return c.showProfiles(ctx, cmd, comps, args)
	})
}

// pauseUntil turns the --until and --for flags into a pause expiry. The zero
// time means the pause is indefinite.
func pauseUntil(now time.Time, until string, d time.Duration) (time.Time, error) {
	switch {
	case until != "":
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return time.Time{}, fmt.Errorf("--until must be an RFC3339 time: %w", err)
		}
		if !t.After(now) {
			return time.Time{}, errors.New("--until must be in the future")
		}
		return t.UTC(), nil
	case d < 0:
		return time.Time{}, errors.New("--for must be positive")
	case d > 0:
		return now.Add(d), nil
	default:
		return time.Time{}, nil
	}
}

func parseMetadata(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q: want KEY=VALUE", pair)
		}
		values[key] = value
	}
	return values, nil
}

func (c *cli) showProfiles(ctx context.Context, cmd *cobra.Command, comps *coordapp.Components, ids []string) error {
	var states []*profile.State
	if len(ids) == 0 {
		var err error
		if states, err = comps.Profiles.List(ctx); err != nil {
			return err
		}
	}
	for _, id := range ids {
		s, err := comps.Profiles.GetState(ctx, id)
		if err != nil {
			return err
		}
		states = append(states, s)
	}

	now := comps.Profiles.Now()
	views := make([]profileView, 0, len(states))
	for _, s := range states {
		views = append(views, newProfileView(s, now))
	}

	return c.render(cmd.OutOrStdout(), views, func() ([]string, [][]string) {
		rows := make([][]string, 0, len(views))
		for _, v := range views {
			pid := "-"
			if v.ActiveWorkerPID != nil {
				pid = strconv.Itoa(*v.ActiveWorkerPID)
			}
			rows = append(rows, []string{
				v.ProfileID,
				strconv.FormatBool(v.EffectivePaused),
				orDash(v.PauseReason),
				formatTimePtr(v.PauseUntil),
				orDash(v.CurrentAction),
				pid,
				orDash(v.WorkerVersion()),
				formatTime(v.LastUpdated),
			})
		}
		return []string{"Profile", "Paused", "Reason", "Until", "Action", "PID", "Version", "Updated"}, rows
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
