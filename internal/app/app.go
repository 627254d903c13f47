// Package app wires the coordination stores, the admin API and the worker
// loops into runnable applications.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ocrfarm/coordinator/internal/config"
	"github.com/ocrfarm/coordinator/internal/logger"
	"github.com/ocrfarm/coordinator/internal/maintenance"
)

// CoordinatorApp runs the admin API together with the stale lock sweep and
// pause expiry loops.
type CoordinatorApp struct {
	config     *config.Config
	components *Components
	httpServer *http.Server
	loops      []maintenance.Loop

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	cleanup    func()
	wg         sync.WaitGroup
}

// Start starts the maintenance loops and then the HTTP server.
// This method blocks until the HTTP server stops or encounters an error
func (app *CoordinatorApp) Start() error {
	for _, loop := range app.loops {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := loop.Start(app.ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Maintenance loop failed: %v", err)
			}
		}()
	}

	logger.Infof("Server listening on %s", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout
// It stops the maintenance loops and then shuts down the HTTP server
func (app *CoordinatorApp) Stop(timeout time.Duration) error {
	logger.Info("Shutting down server...")

	for _, loop := range app.loops {
		if err := loop.Stop(); err != nil {
			logger.Errorf("Failed to stop maintenance loop: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := app.httpServer.Shutdown(shutdownCtx)

	// Loops observe the app context, so cancelling it covers a Stop that ran
	// before a loop goroutine got scheduled.
	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	app.wg.Wait()
	if app.cleanup != nil {
		app.cleanup()
	}

	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	logger.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *CoordinatorApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the stores the application serves
func (app *CoordinatorApp) GetComponents() *Components {
	return app.components
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *CoordinatorApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
