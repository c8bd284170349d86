package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/navwatch/internal/database"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/rs/zerolog"
)

// usageWarnRatio is the store fill level that triggers a warning
const usageWarnRatio = 0.8

// DailyMaintenanceJob checks the store database and its quota usage
type DailyMaintenanceJob struct {
	db    *database.DB
	store kvstore.Store
	log   zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(db *database.DB, store kvstore.Store, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		db:    db,
		store: store,
		log:   log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("CRITICAL: store database failed integrity check")
		return fmt.Errorf("integrity check failed: %w", err)
	}

	// Not critical, the next run retries
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	usage, err := j.store.Usage()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read store usage")
	} else if usage.CapacityBytes > 0 {
		ratio := float64(usage.UsedBytes) / float64(usage.CapacityBytes)
		event := j.log.Info()
		if ratio >= usageWarnRatio {
			event = j.log.Warn()
		}
		event.
			Int("keys", usage.Keys).
			Int64("used_bytes", usage.UsedBytes).
			Int64("capacity_bytes", usage.CapacityBytes).
			Float64("used_ratio", ratio).
			Msg("Store usage")
	}

	j.log.Info().Dur("duration", time.Since(start)).Msg("Daily maintenance completed")
	return nil
}
