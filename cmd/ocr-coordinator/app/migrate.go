package app

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/ocrfarm/coordinator/database"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/logger"
)

func (c *cli) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply all pending database migrations to bring the schema up to date.
This command reads the database connection parameters from the config file
and applies all migrations that haven't been run yet.`,
		Args: cobra.NoArgs,
		RunE: c.runMigrateUp,
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert database migrations",
		Long: `Revert database migrations.

Examples:
  # Migrate down by 1 step
  ocr-coordinator migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all coordination state)
  ocr-coordinator migrate down --config config.yaml --yes`,
		Args: cobra.NoArgs,
		RunE: c.runMigrateDown,
	}
	down.Flags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")

	cmd.AddCommand(up, down)
	return cmd
}

func (c *cli) runMigrateUp(cmd *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, fmt.Sprintf("About to apply migrations to database: %s. Continue?", describeDatabase(cfg)))
	if err != nil || !ok {
		return err
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	logger.Infof("Applying database migrations...")
	if err := database.MigrateUp(connString); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	displayMigrationVersion(connString)
	return nil
}

func (c *cli) runMigrateDown(cmd *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	prompt := fmt.Sprintf("About to revert %d migration(s) on %s. Continue?", numSteps, describeDatabase(cfg))
	if numSteps == 0 {
		prompt = fmt.Sprintf("WARNING: This will revert ALL migrations on %s and drop all coordination state. Continue?",
			describeDatabase(cfg))
	}
	ok, err := confirm(cmd, prompt)
	if err != nil || !ok {
		return err
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	logger.Infof("Reverting database migrations...")
	if err := database.MigrateDown(connString, int(numSteps)); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	displayMigrationVersion(connString)
	return nil
}

// confirm asks prompt on the command's input unless --yes was given.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s (yes/no): ", prompt)
	response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && response == "" {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "yes", "y":
		return true, nil
	default:
		logger.Infof("Migration cancelled by user")
		return false, nil
	}
}

func describeDatabase(cfg *config.Config) string {
	d := cfg.Database
	return fmt.Sprintf("%s@%s:%d/%s", d.User, d.Host, d.Port, d.Database)
}

func displayMigrationVersion(connString string) {
	version, dirty, err := database.GetVersion(connString)
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Infof("No migrations are applied")
	case err != nil:
		logger.Warnf("Unable to get migration version: %v", err)
	case dirty:
		logger.Warnf("Database is in a dirty state at version %d", version)
	default:
		logger.Infof("Migrations applied successfully. Current version: %d", version)
	}
}
