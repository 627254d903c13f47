// Package main is the entry point for the OCR farm coordinator.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ocrfarm/coordinator/cmd/ocr-coordinator/app"
	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/logger"
)

func main() {
	// Logs go to stderr so stdout stays clean for command output
	logger.Initialize(logger.WithLevel(logger.LevelFromEnv(config.EnvPrefix)))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Sync()
		os.Exit(1)
	}
}
