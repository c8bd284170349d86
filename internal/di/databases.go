package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/navwatch/internal/config"
	"github.com/aristath/navwatch/internal/database"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the store database, applies its schema and builds the byte store
func InitializeDatabases(cfg *config.Config, container *Container, log zerolog.Logger) error {
	storeDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "store.db"),
		Profile: database.ProfileStandard,
		Name:    "store",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize store database: %w", err)
	}

	if err := storeDB.Migrate(); err != nil {
		storeDB.Close()
		return fmt.Errorf("failed to migrate store database: %w", err)
	}

	container.StoreDB = storeDB
	container.Store = kvstore.NewSQLiteStore(storeDB.Conn(), cfg.StoreCapacityBytes)

	log.Info().Str("path", storeDB.Path()).Int64("capacity_bytes", cfg.StoreCapacityBytes).Msg("Store database initialized")
	return nil
}
