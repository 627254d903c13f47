package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	coordapp "github.com/ocrfarm/coordinator/internal/app"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/logger"
	"github.com/ocrfarm/coordinator/internal/telemetry"
	"github.com/ocrfarm/coordinator/internal/versions"
)

const (
	defaultGracefulTimeout   = 30 * time.Second // Kubernetes-friendly shutdown time
	telemetryShutdownTimeout = 5 * time.Second
)

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin API server",
		Long: `Start the admin API server together with the stale lock sweep and the
pause expiry loops.

The server reads its database, lock, pause and telemetry settings from the
configuration file. --address overrides server.address.`,
		Args: cobra.NoArgs,
		RunE: c.runServe,
	}
	cmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	cmd.Flags().Duration("shutdown-timeout", defaultGracefulTimeout, "Time allowed for graceful shutdown")
	return cmd
}

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

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

	opts := []coordapp.CoordinatorAppOption{
		coordapp.WithConfig(cfg),
		coordapp.WithComponents(comps),
		coordapp.WithMeterProvider(tel.MeterProvider()),
		coordapp.WithTracerProvider(tel.TracerProvider()),
		coordapp.WithMetricsHandler(tel.MetricsHandler()),
	}
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		opts = append(opts, coordapp.WithAddress(address))
	}
	timeout, err := cmd.Flags().GetDuration("shutdown-timeout")
	if err != nil {
		return fmt.Errorf("failed to get shutdown-timeout flag: %w", err)
	}

	server, err := coordapp.NewCoordinatorApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build coordinator app: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		// Start only returns early when the listener could not be opened.
		_ = server.Stop(timeout)
		return err
	case <-ctx.Done():
	}

	if err := server.Stop(timeout); err != nil {
		return err
	}
	return <-errCh
}

// startTelemetry initializes telemetry from cfg. The returned function flushes
// and stops the providers.
func startTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, func(), error) {
	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warnf("Telemetry shutdown failed: %v", err)
		}
	}, nil
}
