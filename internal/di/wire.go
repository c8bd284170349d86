package di

import (
	"fmt"

	"github.com/aristath/navwatch/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// The scheduler is created but not started.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// Step 1: Initialize databases
	if err := InitializeDatabases(cfg, container, log); err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Step 2: Initialize services
	if err := InitializeServices(cfg, container, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 3: Upgrade legacy fund storage before anything reads it
	if err := container.Funds.Migrate(); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to migrate fund storage: %w", err)
	}

	// Step 4: Register background jobs
	if err := RegisterJobs(container, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, nil
}
