// Package main is the entry point for the navwatch fund valuation service.
// It tracks a watchlist of mutual funds and estimates their intraday NAV from the
// live prices of their disclosed holdings.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/navwatch/internal/config"
	"github.com/aristath/navwatch/internal/di"
	calendarhandlers "github.com/aristath/navwatch/internal/modules/calendar/handlers"
	estimatorhandlers "github.com/aristath/navwatch/internal/modules/estimator/handlers"
	"github.com/aristath/navwatch/internal/server"
	"github.com/aristath/navwatch/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// main orchestrates startup:
// 1. Load configuration and build the logger
// 2. Wire all dependencies (store, clients, modules, jobs)
// 3. Warm the holiday calendar
// 4. Start the scheduler and the HTTP server
// 5. Wait for a shutdown signal and stop gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("version", version).
		Str("data_dir", cfg.DataDir).
		Str("timezone", cfg.MarketTimezone).
		Msg("Starting navwatch")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close container")
		}
	}()

	// Holidays are fetched once at startup; queries fall back to weekdays until then
	if err := container.Scheduler.RunNow(container.Jobs.HolidayCheck); err != nil {
		log.Warn().Err(err).Msg("Holiday calendar not cached, weekdays count as trading days")
	}

	systemHandlers := server.NewSystemHandlers(container.Store, container.Serializer, container.Scheduler, log)
	var backupHandlers *server.BackupHandlers
	if container.BackupService != nil {
		backupHandlers = server.NewBackupHandlers(container.BackupService, log)
	}

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Version: version,
		Modules: []server.RouteRegistrar{
			estimatorhandlers.NewHandler(container.Estimator, container.Funds, log),
			calendarhandlers.NewHandler(container.Calendar, log),
		},
		System:  systemHandlers,
		Backups: backupHandlers,
	})

	container.Scheduler.Start()

	// Stale holdings are refreshed right away instead of waiting for the first tick
	go container.Estimator.DailyRefreshCheck(context.Background(), time.Now())

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Scheduler stops first so no job writes to the store during shutdown
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
