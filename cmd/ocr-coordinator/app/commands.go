// Package app provides the command line entry points of the OCR farm
// coordinator.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/db"
	"github.com/ocrfarm/coordinator/internal/versions"
)

// ComponentsOpener builds the stores a command works on. The returned
// function releases them.
type ComponentsOpener func(
	ctx context.Context,
	cfg *config.Config,
	opts ...coordapp.ComponentsOption,
) (*coordapp.Components, func(), error)

// cli is the state shared by every command of one root.
type cli struct {
	v    *viper.Viper
	open ComponentsOpener
}

// NewRootCmd creates the root command of the coordinator CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(openDatabase)
}

func newRootCmd(open ComponentsOpener) *cobra.Command {
	c := &cli{v: newRootViper(), open: open}

	rootCmd := &cobra.Command{
		Use:               "ocr-coordinator",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "OCR farm coordination core",
		Long: `ocr-coordinator runs the admin API and the worker loops of an OCR farm and
gives operators direct access to locks, profile pauses, jobs, run records and alerts.

Every command except version reads a YAML configuration file (--config or
OCR_COORD_CONFIG). See examples/ for a sample configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	rootCmd.PersistentFlags().StringP("output", "o", formatAuto, "Output format: auto, table or json")
	for _, name := range []string{"config", "output"} {
		if err := c.v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}

	rootCmd.AddCommand(
		c.newServeCmd(),
		c.newWorkerCmd(),
		c.newMigrateCmd(),
		c.newPauseCmd(),
		c.newLocksCmd(),
		c.newJobsCmd(),
		c.newRunsCmd(),
		c.newAlertsCmd(),
		c.newCheckCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newRootViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == formatJSON {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ocr-coordinator %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

// loadConfig reads the configuration named by --config or OCR_COORD_CONFIG.
func (c *cli) loadConfig() (*config.Config, error) {
	path := c.v.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("a configuration file is required: pass --config or set %s_CONFIG", config.EnvPrefix)
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// withComponents loads the configuration, opens the stores and runs fn.
func (c *cli) withComponents(
	cmd *cobra.Command,
	fn func(ctx context.Context, cfg *config.Config, comps *coordapp.Components) error,
) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	comps, closeFn, err := c.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, cfg, comps)
}

func openDatabase(
	ctx context.Context,
	cfg *config.Config,
	opts ...coordapp.ComponentsOption,
) (*coordapp.Components, func(), error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	comps, err := coordapp.NewComponents(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return comps, pool.Close, nil
}
