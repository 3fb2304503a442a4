// Package bootstrap handles application initialization and lifecycle management
// for the outreach service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

const (
	version             = "dev"
	dispatchDrainWindow = 30 * time.Second
)

// Start initializes the service and blocks until it receives SIGINT/SIGTERM
// or the HTTP server fails.
func Start() error {
	// Phase 1: config and logger
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := CreateLogger(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// Phase 2: database
	db, err := SetupDatabase(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Failed to close database", logger.Error(closeErr))
		}
	}()

	// Phase 3: lifecycle event stream (optional)
	publisher, closeRedis := SetupEventPublisher(cfg, log)
	defer closeRedis()

	// Phase 4: engine
	svc := SetupServices(cfg, db, publisher, log)
	if startErr := svc.Start(context.Background()); startErr != nil {
		return fmt.Errorf("failed to start services: %w", startErr)
	}

	// Phase 5: HTTP
	srv := SetupHTTPServer(cfg, svc, log)
	errCh := srv.StartAsync()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))
	case serveErr := <-errCh:
		if serveErr != nil {
			log.Error("Server error", logger.Error(serveErr))
			runErr = fmt.Errorf("server error: %w", serveErr)
		}
	}

	shutdownErr := shutdown(srv, svc, log)

	log.Info("Server exited")
	return errors.Join(runErr, shutdownErr)
}

type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown closes live event streams, stops intake, then drains background
// work. Open streams would otherwise hold the HTTP drain until its timeout.
// The database closes last, in Start.
func shutdown(srv httpShutdowner, svc *Services, log logger.Logger) error {
	if closed := svc.Bus.CloseAll(); closed > 0 {
		log.Info("Closed event streams", logger.Int("connections", closed))
	}

	shutdownErr := srv.Shutdown(context.Background())
	if shutdownErr != nil {
		log.Error("HTTP shutdown failed", logger.Error(shutdownErr))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), dispatchDrainWindow)
	defer cancel()

	stopErr := svc.Stop(drainCtx)
	if stopErr != nil {
		log.Error("Background shutdown incomplete", logger.Error(stopErr))
	}

	return errors.Join(shutdownErr, stopErr)
}
