// Package calendar provides the A-share trading calendar.
//
// Holiday data is fetched a year at a time from a HolidayProvider and cached in the byte
// store as twelve month buckets (holiday_YYYY-MM). Queries never block on the network:
// without cached data every weekday counts as a trading day.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/rs/zerolog"
)

// KeyPrefix prefixes every month bucket key in the byte store
const KeyPrefix = "holiday_"

// maxLookback bounds LastTradingDay
const maxLookback = 30

// HolidayProvider fetches the holiday calendar of a whole year
type HolidayProvider interface {
	FetchYear(ctx context.Context, year int) ([]domain.HolidayRecord, error)
}

// bucket maps ISO dates to their records
type bucket map[string]domain.HolidayRecord

// Cache is the trading calendar backed by month buckets in the byte store
type Cache struct {
	store    kvstore.Store
	provider HolidayProvider
	loc      *time.Location
	sessions Sessions
	log      zerolog.Logger

	mu sync.RWMutex
	// Decoded buckets by key; a nil entry records a missing bucket
	memo map[string]bucket
}

// NewCache creates a calendar cache. Dates are interpreted in loc.
func NewCache(store kvstore.Store, provider HolidayProvider, loc *time.Location, sessions Sessions, log zerolog.Logger) *Cache {
	return &Cache{
		store:    store,
		provider: provider,
		loc:      loc,
		sessions: sessions,
		log:      log.With().Str("component", "calendar").Logger(),
		memo:     make(map[string]bucket),
	}
}

// Location returns the market time zone
func (c *Cache) Location() *time.Location {
	return c.loc
}

// Sessions returns the daily trading windows
func (c *Cache) Sessions() Sessions {
	return c.sessions
}

// MonthKey returns the store key of the bucket holding the given year and month
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%s%04d-%02d", KeyPrefix, year, int(month))
}

// CheckAndCache evicts last year's buckets and makes sure the current year is cached.
func (c *Cache) CheckAndCache(ctx context.Context, now time.Time) error {
	return c.EnsureYearCached(ctx, now.In(c.loc).Year())
}

// EnsureYearCached evicts the twelve buckets of year-1 and fetches year when its
// January bucket is missing. A provider failure leaves the year uncached.
func (c *Cache) EnsureYearCached(ctx context.Context, year int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for month := time.January; month <= time.December; month++ {
		key := MonthKey(year-1, month)
		if _, ok, err := c.store.Get(key); err == nil && ok {
			if err := c.store.Delete(key); err != nil {
				return fmt.Errorf("failed to evict %s: %w", key, err)
			}
			c.log.Debug().Str("key", key).Msg("Evicted previous year holiday bucket")
		}
		delete(c.memo, key)
	}

	_, ok, err := c.store.Get(MonthKey(year, time.January))
	if err != nil {
		return fmt.Errorf("failed to check holiday cache for %d: %w", year, err)
	}
	if ok {
		return nil
	}

	records, err := c.provider.FetchYear(ctx, year)
	if err != nil {
		return fmt.Errorf("failed to fetch holidays for %d: %w", year, err)
	}

	buckets := make(map[string]bucket, 12)
	for month := time.January; month <= time.December; month++ {
		buckets[MonthKey(year, month)] = bucket{}
	}
	for _, r := range records {
		if len(r.Date) < 7 {
			continue
		}
		key := KeyPrefix + r.Date[:7]
		if b, ok := buckets[key]; ok {
			b[r.Date] = r
		}
	}

	// January is written last: its presence marks the year as cached
	for month := time.December; month >= time.January; month-- {
		key := MonthKey(year, month)
		data, err := json.Marshal(buckets[key])
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		if err := c.store.Set(key, string(data)); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
		c.memo[key] = buckets[key]
	}

	c.log.Info().Int("year", year).Int("records", len(records)).Msg("Cached holiday calendar")
	return nil
}

// record returns the cached record for the day of t, or nil
func (c *Cache) record(t time.Time) *domain.HolidayRecord {
	key := MonthKey(t.Year(), t.Month())

	c.mu.RLock()
	b, seen := c.memo[key]
	c.mu.RUnlock()

	if !seen {
		b = c.loadBucket(key)
	}
	if b == nil {
		return nil
	}

	r, ok := b[t.Format("2006-01-02")]
	if !ok {
		return nil
	}
	return &r
}

// loadBucket reads and memoizes a bucket. Unreadable buckets count as missing.
// An entry memoized while the store was being read wins over this read.
func (c *Cache) loadBucket(key string) bucket {
	raw, ok, err := c.store.Get(key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to read holiday bucket")
		return nil
	}

	var b bucket
	if ok {
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to parse holiday bucket")
			b = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, seen := c.memo[key]; seen {
		return current
	}
	c.memo[key] = b
	return b
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// IsTradingDay reports whether the market opens on the day of t.
// Weekends are always closed, even make-up workdays.
func (c *Cache) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if isWeekend(t) {
		return false
	}
	if r := c.record(t); r != nil && r.IsHoliday {
		return false
	}
	return true
}

// IsWeekendMakeup reports whether the day of t is a weekend make-up workday.
func (c *Cache) IsWeekendMakeup(t time.Time) bool {
	t = t.In(c.loc)
	if !isWeekend(t) {
		return false
	}
	r := c.record(t)
	return r != nil && !r.IsHoliday
}

// IsTradingTime reports whether t is inside a session of a trading day.
func (c *Cache) IsTradingTime(t time.Time) bool {
	t = t.In(c.loc)
	return c.IsTradingDay(t) && c.sessions.Contains(t)
}

// LastTradingDay returns the latest trading day on or before the day of t.
// The walk checks maxLookback days; when none trades the day maxLookback days back is returned.
func (c *Cache) LastTradingDay(t time.Time) time.Time {
	t = t.In(c.loc)
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < maxLookback; i++ {
		if c.IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// Month classifies every day of the given month.
func (c *Cache) Month(year int, month time.Month) []Day {
	first := time.Date(year, month, 1, 0, 0, 0, 0, c.loc)
	days := make([]Day, 0, 31)
	for d := first; d.Month() == month; d = d.AddDate(0, 0, 1) {
		day := Day{Date: d.Format("2006-01-02"), Weekday: d.Weekday().String(), Status: DayTrading}
		r := c.record(d)
		switch {
		case r != nil && r.IsHoliday:
			day.Status = DayHoliday
			day.Name = r.Name
		case isWeekend(d) && r != nil:
			day.Status = DayMakeup
			day.Name = r.Name
		case isWeekend(d):
			day.Status = DayWeekend
		}
		days = append(days, day)
	}
	return days
}

// StatusAt summarizes the market state at t
func (c *Cache) StatusAt(t time.Time) Status {
	t = t.In(c.loc)
	return Status{
		Date:           t.Format("2006-01-02"),
		TradingDay:     c.IsTradingDay(t),
		TradingTime:    c.IsTradingTime(t),
		WeekendMakeup:  c.IsWeekendMakeup(t),
		LastTradingDay: c.LastTradingDay(t).Format("2006-01-02"),
		Timezone:       c.loc.String(),
	}
}
