package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/navwatch/internal/modules/estimator"
	"github.com/rs/zerolog"
)

// Schedules of the fixed jobs
const (
	DailyRefreshSchedule = "0 * * * * *"
	HolidayCheckSchedule = "0 5 0 * * *"
	BackupSchedule       = "0 0 16 * * *"
	MaintenanceSchedule  = "0 0 2 * * *"
)

// PricePoller is the estimator surface used by the price poll job
type PricePoller interface {
	PollPrices(ctx context.Context, force bool) (estimator.PollResult, error)
}

// DailyRefresher is the estimator surface used by the daily refresh job
type DailyRefresher interface {
	DailyRefreshCheck(ctx context.Context, now time.Time) bool
}

// HolidayChecker keeps the holiday calendar cached
type HolidayChecker interface {
	CheckAndCache(ctx context.Context, now time.Time) error
}

// PricePollJob runs a non-forced price poll
type PricePollJob struct {
	poller  PricePoller
	timeout time.Duration
	log     zerolog.Logger
}

// NewPricePollJob creates the price poll job
func NewPricePollJob(poller PricePoller, log zerolog.Logger) *PricePollJob {
	return &PricePollJob{
		poller:  poller,
		timeout: 30 * time.Second,
		log:     log.With().Str("job", "price_poll").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *PricePollJob) Name() string {
	return "price_poll"
}

// Run executes the price poll job
func (j *PricePollJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	res, err := j.poller.PollPrices(ctx, false)
	if err != nil {
		return fmt.Errorf("price poll failed: %w", err)
	}
	if res.Skipped {
		j.log.Debug().Str("reason", res.Reason).Msg("Price poll skipped")
	}
	return nil
}

// DailyRefreshJob triggers the daily holdings refresh once it is due
type DailyRefreshJob struct {
	refresher DailyRefresher
	now       func() time.Time
}

// NewDailyRefreshJob creates the daily refresh check job
func NewDailyRefreshJob(refresher DailyRefresher) *DailyRefreshJob {
	return &DailyRefreshJob{refresher: refresher, now: time.Now}
}

// Name returns the job name for scheduler
func (j *DailyRefreshJob) Name() string {
	return "daily_refresh_check"
}

// Run executes the daily refresh check
func (j *DailyRefreshJob) Run() error {
	j.refresher.DailyRefreshCheck(context.Background(), j.now())
	return nil
}

// HolidayCheckJob caches the current year's holiday calendar
type HolidayCheckJob struct {
	checker HolidayChecker
	timeout time.Duration
	now     func() time.Time
}

// NewHolidayCheckJob creates the holiday cache job
func NewHolidayCheckJob(checker HolidayChecker) *HolidayCheckJob {
	return &HolidayCheckJob{checker: checker, timeout: 30 * time.Second, now: time.Now}
}

// Name returns the job name for scheduler
func (j *HolidayCheckJob) Name() string {
	return "holiday_check"
}

// Run executes the holiday cache check
func (j *HolidayCheckJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.checker.CheckAndCache(ctx, j.now())
}

// PollSchedule returns the cron schedule of a price poll every seconds
func PollSchedule(seconds int) string {
	return fmt.Sprintf("@every %ds", seconds)
}

// Jobs holds the navwatch jobs registered by Register
type Jobs struct {
	PricePoll    *PricePollJob
	DailyRefresh *DailyRefreshJob
	HolidayCheck *HolidayCheckJob
	Maintenance  Job // Optional
	Backup       Job // Optional
}

// Register adds every job to the scheduler with its schedule
func Register(s *Scheduler, jobs Jobs, refreshInterval int) error {
	if err := s.AddJob(PollSchedule(refreshInterval), jobs.PricePoll); err != nil {
		return err
	}
	if err := s.AddJob(DailyRefreshSchedule, jobs.DailyRefresh); err != nil {
		return err
	}
	if err := s.AddJob(HolidayCheckSchedule, jobs.HolidayCheck); err != nil {
		return err
	}
	if jobs.Maintenance != nil {
		if err := s.AddJob(MaintenanceSchedule, jobs.Maintenance); err != nil {
			return err
		}
	}
	if jobs.Backup != nil {
		if err := s.AddJob(BackupSchedule, jobs.Backup); err != nil {
			return err
		}
	}
	return nil
}

// IntervalUpdater returns a callback that re-registers the price poll job when the
// refresh interval changes
func IntervalUpdater(s *Scheduler, job *PricePollJob) func(seconds int) {
	return func(seconds int) {
		if err := s.AddJob(PollSchedule(seconds), job); err != nil {
			s.log.Error().Err(err).Int("seconds", seconds).Msg("Failed to reschedule price poll")
		}
	}
}
