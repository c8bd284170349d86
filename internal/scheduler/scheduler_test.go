package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/navwatch/internal/modules/estimator"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

type fakePoller struct {
	forced []bool
	result estimator.PollResult
	err    error
}

func (p *fakePoller) PollPrices(_ context.Context, force bool) (estimator.PollResult, error) {
	p.forced = append(p.forced, force)
	return p.result, p.err
}

type fakeRefresher struct{ calls []time.Time }

func (r *fakeRefresher) DailyRefreshCheck(_ context.Context, now time.Time) bool {
	r.calls = append(r.calls, now)
	return true
}

type fakeHolidays struct {
	calls int
	err   error
}

func (h *fakeHolidays) CheckAndCache(context.Context, time.Time) error {
	h.calls++
	return h.err
}

func TestScheduler_AddJobReplacesByName(t *testing.T) {
	s := New(time.UTC, zerolog.Nop())
	job := &countingJob{name: "poll"}

	require.NoError(t, s.AddJob("@every 60s", job))
	require.NoError(t, s.AddJob("@every 30s", job))
	assert.Equal(t, []string{"poll"}, s.Jobs())
	assert.Len(t, s.cron.Entries(), 1)

	assert.True(t, s.RemoveJob("poll"))
	assert.False(t, s.RemoveJob("poll"))
	assert.Empty(t, s.cron.Entries())
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := New(time.UTC, zerolog.Nop())
	err := s.AddJob("not a schedule", &countingJob{name: "bad"})
	assert.Error(t, err)
	assert.Empty(t, s.Jobs())
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(time.UTC, zerolog.Nop())
	job := &countingJob{name: "tick", err: errors.New("failures are logged")}
	require.NoError(t, s.AddJob("* * * * * *", job))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, s.Next("tick").IsZero())
}

func TestRegister(t *testing.T) {
	s := New(time.UTC, zerolog.Nop())
	jobs := Jobs{
		PricePoll:    NewPricePollJob(&fakePoller{}, zerolog.Nop()),
		DailyRefresh: NewDailyRefreshJob(&fakeRefresher{}),
		HolidayCheck: NewHolidayCheckJob(&fakeHolidays{}),
		Backup:       &countingJob{name: "snapshot_backup"},
	}
	require.NoError(t, Register(s, jobs, 60))

	names := s.Jobs()
	sort.Strings(names)
	assert.Equal(t, []string{"daily_refresh_check", "holiday_check", "price_poll", "snapshot_backup"}, names)

	update := IntervalUpdater(s, jobs.PricePoll)
	update(120)
	assert.Len(t, s.Jobs(), 4)
	assert.Len(t, s.cron.Entries(), 4)
}

func TestPricePollJob(t *testing.T) {
	poller := &fakePoller{result: estimator.PollResult{Skipped: true, Reason: "outside trading hours"}}
	job := NewPricePollJob(poller, zerolog.Nop())

	assert.Equal(t, "price_poll", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, []bool{false}, poller.forced)

	poller.err = errors.New("boom")
	assert.Error(t, job.Run())
}

func TestDailyRefreshAndHolidayJobs(t *testing.T) {
	at := time.Date(2024, 10, 9, 9, 1, 0, 0, time.UTC)

	refresher := &fakeRefresher{}
	daily := NewDailyRefreshJob(refresher)
	daily.now = func() time.Time { return at }
	require.NoError(t, daily.Run())
	assert.Equal(t, []time.Time{at}, refresher.calls)

	holidays := &fakeHolidays{}
	check := NewHolidayCheckJob(holidays)
	require.NoError(t, check.Run())
	assert.Equal(t, 1, holidays.calls)

	holidays.err = errors.New("provider down")
	assert.Error(t, check.Run())
}

func TestPollSchedule(t *testing.T) {
	assert.Equal(t, "@every 45s", PollSchedule(45))
}
