package di

import (
	"github.com/aristath/navwatch/internal/reliability"
	"github.com/aristath/navwatch/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers the background jobs.
// The price poll follows the persisted refresh interval and is rescheduled when it changes.
func RegisterJobs(container *Container, log zerolog.Logger) error {
	appConfig, err := container.Funds.Config()
	if err != nil {
		return err
	}

	container.Scheduler = scheduler.New(container.Location, log)
	container.Jobs = scheduler.Jobs{
		PricePoll:    scheduler.NewPricePollJob(container.Estimator, log),
		DailyRefresh: scheduler.NewDailyRefreshJob(container.Estimator),
		HolidayCheck: scheduler.NewHolidayCheckJob(container.Calendar),
		Maintenance:  reliability.NewDailyMaintenanceJob(container.StoreDB, container.Store, log),
	}
	if container.BackupService != nil {
		container.Jobs.Backup = reliability.NewBackupJob(container.BackupService)
	}

	if err := scheduler.Register(container.Scheduler, container.Jobs, appConfig.RefreshInterval); err != nil {
		return err
	}
	container.Estimator.OnIntervalChange(scheduler.IntervalUpdater(container.Scheduler, container.Jobs.PricePoll))

	log.Info().Strs("jobs", container.Scheduler.Jobs()).Int("refresh_interval", appConfig.RefreshInterval).Msg("Background jobs registered")
	return nil
}
