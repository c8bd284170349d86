// Package estimator orchestrates fund tracking: resolution, price polling,
// valuation and intraday history recording.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/modules/funds"
	"github.com/aristath/navwatch/internal/modules/history"
	"github.com/aristath/navwatch/internal/modules/valuation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrFundExists   = errors.New("fund already tracked")
	ErrFundNotFound = errors.New("fund not found")
	ErrNotResolved  = errors.New("fund data could not be resolved")
	ErrInvalidCode  = errors.New("fund code must be six digits")
	ErrInvalidRatio = errors.New("equity ratio must be in (0, 100]")
)

var fundCodePattern = regexp.MustCompile(`^\d{6}$`)

// Calendar answers market-hours questions
type Calendar interface {
	IsTradingDay(t time.Time) bool
	IsTradingTime(t time.Time) bool
	Location() *time.Location
}

// Resolver builds a fund's holdings and NAV from the providers
type Resolver interface {
	Resolve(ctx context.Context, code string) (*domain.Resolution, error)
}

// PriceProvider fetches live quotes. Ids without a quote are absent from the result.
type PriceProvider interface {
	FetchQuotes(ctx context.Context, ids []string) (map[string]domain.PriceQuote, error)
}

// FundRepository persists funds and configuration
type FundRepository interface {
	List() ([]domain.FundRecord, error)
	Get(code string) (*domain.FundRecord, error)
	Save(fund domain.FundRecord) error
	Update(code string, fn func(fund *domain.FundRecord) error) (*domain.FundRecord, error)
	WithFund(code string, fn func(fund domain.FundRecord) error) (bool, error)
	Delete(code string) (bool, error)
	Config() (domain.AppConfig, error)
	SaveConfig(cfg domain.AppConfig) (domain.AppConfig, error)
}

// HistoryRecorder stores intraday estimate points
type HistoryRecorder interface {
	EffectiveTimestamp(now time.Time) time.Time
	Append(fundID string, estimate float64, snapshot []domain.SnapshotEntry, at time.Time) error
	Read(fundID string) ([]domain.HistoryPoint, error)
}

// Config holds orchestration settings
type Config struct {
	BatchRefreshDelay time.Duration
	DailyRefreshHour  int
}

// FundEstimate is a tracked fund with its current valuation
type FundEstimate struct {
	Fund      domain.FundRecord      `json:"fund"`
	Valuation domain.ValuationResult `json:"valuation"`
	Quoted    int                    `json:"quotedHoldings"`
}

// PollResult describes one price poll
type PollResult struct {
	CycleID  string `json:"cycleId"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
	Quotes   int    `json:"quotes"`
	Recorded int    `json:"recorded"`
}

// Service is the fund estimation orchestrator
type Service struct {
	calendar Calendar
	resolver Resolver
	prices   PriceProvider
	funds    FundRepository
	history  HistoryRecorder
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time

	mu          sync.RWMutex
	priceCache  map[string]domain.PriceQuote
	lastPollAt  time.Time
	batchActive atomic.Bool

	listenersMu sync.Mutex
	listeners   []func(seconds int)
}

// NewService creates the orchestrator
func NewService(
	calendar Calendar,
	resolver Resolver,
	prices PriceProvider,
	funds FundRepository,
	history HistoryRecorder,
	cfg Config,
	log zerolog.Logger,
) *Service {
	return &Service{
		calendar:   calendar,
		resolver:   resolver,
		prices:     prices,
		funds:      funds,
		history:    history,
		cfg:        cfg,
		log:        log.With().Str("service", "estimator").Logger(),
		now:        time.Now,
		priceCache: make(map[string]domain.PriceQuote),
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// OnIntervalChange registers a callback invoked with the new refresh interval in seconds
func (s *Service) OnIntervalChange(fn func(seconds int)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// AddFund resolves and starts tracking a fund
func (s *Service) AddFund(ctx context.Context, code string) (*domain.FundRecord, error) {
	if !fundCodePattern.MatchString(code) {
		return nil, ErrInvalidCode
	}

	existing, err := s.funds.Get(code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up fund: %w", err)
	}
	if existing != nil {
		return nil, ErrFundExists
	}

	res, err := s.resolver.Resolve(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fund %s: %w", code, err)
	}
	if res == nil {
		return nil, ErrNotResolved
	}

	fund := domain.FundRecord{
		FundID:          code,
		Name:            res.Name,
		Holdings:        res.Holdings,
		PriorNav:        res.PriorNav,
		EquityRatio:     res.EquityRatio,
		LastRefreshedAt: s.now().UnixMilli(),
	}
	if err := s.funds.Save(fund); err != nil {
		return nil, fmt.Errorf("failed to save fund: %w", err)
	}

	s.log.Info().
		Str("fund", code).
		Str("name", fund.Name).
		Int("holdings", len(fund.Holdings)).
		Msg("Fund added")
	return &fund, nil
}

// RemoveFund stops tracking a fund and drops its history
func (s *Service) RemoveFund(code string) error {
	existed, err := s.funds.Delete(code)
	if err != nil {
		return fmt.Errorf("failed to remove fund: %w", err)
	}
	if !existed {
		return ErrFundNotFound
	}
	s.log.Info().Str("fund", code).Msg("Fund removed")
	return nil
}

// RefreshHoldings re-resolves a tracked fund. An unresolved fund keeps its stored data.
func (s *Service) RefreshHoldings(ctx context.Context, code string) (*domain.FundRecord, error) {
	existing, err := s.funds.Get(code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up fund: %w", err)
	}
	if existing == nil {
		return nil, ErrFundNotFound
	}

	res, err := s.resolver.Resolve(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fund %s: %w", code, err)
	}
	if res == nil {
		return nil, ErrNotResolved
	}

	// Applied to the current record: the fund may have changed or gone while resolving
	updated, err := s.funds.Update(code, func(fund *domain.FundRecord) error {
		fund.Name = res.Name
		fund.Holdings = res.Holdings
		fund.EquityRatio = res.EquityRatio
		fund.LastRefreshedAt = s.now().UnixMilli()
		if res.PriorNav != nil {
			fund.PriorNav = res.PriorNav
		}
		return nil
	})
	if errors.Is(err, funds.ErrNotFound) {
		s.log.Info().Str("fund", code).Msg("Fund removed during refresh, discarding holdings")
		return nil, ErrFundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save fund: %w", err)
	}

	s.log.Info().Str("fund", code).Int("holdings", len(updated.Holdings)).Msg("Holdings refreshed")
	return updated, nil
}

// BatchActive reports whether a batch refresh is running
func (s *Service) BatchActive() bool {
	return s.batchActive.Load()
}

// RefreshAll refreshes holdings of every fund, or only those not refreshed today when
// force is false. It returns false without doing anything when a batch is already running.
func (s *Service) RefreshAll(ctx context.Context, force bool) bool {
	if !s.batchActive.CompareAndSwap(false, true) {
		s.log.Debug().Msg("Batch refresh already running, skipping")
		return false
	}
	defer s.batchActive.Store(false)

	s.runBatch(ctx, force)
	return true
}

// StartRefreshAll runs RefreshAll in the background. It returns false when a batch is
// already running.
func (s *Service) StartRefreshAll(force bool) bool {
	if !s.batchActive.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.batchActive.Store(false)
		s.runBatch(context.Background(), force)
	}()
	return true
}

func (s *Service) runBatch(ctx context.Context, force bool) {
	tracked, err := s.funds.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list funds for batch refresh")
		return
	}

	now := s.now()
	targets := make([]string, 0, len(tracked))
	for _, f := range tracked {
		if force || s.isStale(f, now) {
			targets = append(targets, f.FundID)
		}
	}
	if len(targets) == 0 {
		s.log.Debug().Bool("force", force).Msg("No funds need a holdings refresh")
		return
	}

	start := time.Now()
	s.log.Info().Int("funds", len(targets)).Bool("force", force).Msg("Starting batch holdings refresh")

	failed := 0
	for i, code := range targets {
		if _, err := s.RefreshHoldings(ctx, code); err != nil {
			failed++
			s.log.Warn().Err(err).Str("fund", code).Msg("Holdings refresh failed")
		}

		if i < len(targets)-1 && s.cfg.BatchRefreshDelay > 0 {
			select {
			case <-ctx.Done():
				s.log.Warn().Err(ctx.Err()).Msg("Batch refresh interrupted")
				return
			case <-time.After(s.cfg.BatchRefreshDelay):
			}
		}
	}

	s.log.Info().
		Int("funds", len(targets)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch holdings refresh completed")

	if _, err := s.pollPrices(ctx, true); err != nil {
		s.log.Warn().Err(err).Msg("Price poll after batch refresh failed")
	}
}

// isStale reports whether a fund was not refreshed on the market-local day of now
func (s *Service) isStale(f domain.FundRecord, now time.Time) bool {
	if f.LastRefreshedAt <= 0 {
		return true
	}
	loc := s.calendar.Location()
	last := time.UnixMilli(f.LastRefreshedAt).In(loc)
	today := now.In(loc)
	return last.Year() != today.Year() || last.YearDay() != today.YearDay()
}

// DailyRefreshCheck starts a non-forced batch refresh once the daily refresh hour has
// passed and some fund was not refreshed today. It reports whether a batch ran.
func (s *Service) DailyRefreshCheck(ctx context.Context, now time.Time) bool {
	if now.In(s.calendar.Location()).Hour() < s.cfg.DailyRefreshHour {
		return false
	}
	if s.batchActive.Load() {
		return false
	}

	tracked, err := s.funds.List()
	if err != nil {
		s.log.Warn().Err(err).Msg("Daily refresh check could not list funds")
		return false
	}

	for _, f := range tracked {
		if s.isStale(f, now) {
			return s.RefreshAll(ctx, false)
		}
	}
	return false
}

// PollPrices fetches quotes for every holding and records a history point per fund.
// Non-trading days are always skipped; outside session hours only a forced poll runs.
// A non-forced poll is also skipped while a batch refresh is running.
func (s *Service) PollPrices(ctx context.Context, force bool) (PollResult, error) {
	if !force && s.batchActive.Load() {
		return PollResult{Skipped: true, Reason: "batch refresh running"}, nil
	}
	return s.pollPrices(ctx, force)
}

func (s *Service) pollPrices(ctx context.Context, force bool) (PollResult, error) {
	result := PollResult{CycleID: uuid.New().String()}
	log := s.log.With().Str("cycle_id", result.CycleID).Bool("force", force).Logger()

	now := s.now()
	if !s.calendar.IsTradingDay(now) {
		if force {
			log.Info().Msg("Not a trading day, skipping price poll")
		}
		result.Skipped, result.Reason = true, "not a trading day"
		return result, nil
	}
	if !force && !s.calendar.IsTradingTime(now) {
		result.Skipped, result.Reason = true, "outside trading hours"
		return result, nil
	}

	tracked, err := s.funds.List()
	if err != nil {
		return result, fmt.Errorf("failed to list funds: %w", err)
	}

	ids := collectSecurityIDs(tracked)
	if len(ids) == 0 {
		result.Skipped, result.Reason = true, "no holdings"
		return result, nil
	}

	log.Debug().Int("securities", len(ids)).Msg("Polling prices")
	quotes, err := s.prices.FetchQuotes(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("Quote fetch failed, using cached prices")
		quotes = nil
	}
	result.Quotes = len(quotes)

	s.mu.Lock()
	for id, q := range quotes {
		s.priceCache[id] = q
	}
	s.lastPollAt = now
	merged := make(map[string]domain.PriceQuote, len(s.priceCache))
	for id, q := range s.priceCache {
		merged[id] = q
	}
	s.mu.Unlock()

	at := s.history.EffectiveTimestamp(now)
	for _, f := range tracked {
		// Appending under the fund lock keeps a concurrent removal from leaving a partition behind
		listed, err := s.funds.WithFund(f.FundID, func(fund domain.FundRecord) error {
			res := valuation.Evaluate(fund, merged)
			return s.history.Append(fund.FundID, res.Estimate, valuation.Snapshot(fund, merged), at)
		})
		if err != nil {
			log.Warn().Err(err).Str("fund", f.FundID).Msg("Failed to record history point")
			continue
		}
		if !listed {
			log.Debug().Str("fund", f.FundID).Msg("Fund removed during poll, skipping history")
			continue
		}
		result.Recorded++
	}

	log.Info().
		Int("securities", len(ids)).
		Int("quotes", result.Quotes).
		Int("recorded", result.Recorded).
		Msg("Price poll completed")
	return result, nil
}

func collectSecurityIDs(tracked []domain.FundRecord) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, f := range tracked {
		for _, id := range f.SecurityIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Estimates values every tracked fund against the cached prices
func (s *Service) Estimates() ([]FundEstimate, error) {
	tracked, err := s.funds.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FundEstimate, 0, len(tracked))
	for _, f := range tracked {
		quoted := 0
		for _, h := range f.Holdings {
			if _, ok := s.priceCache[h.SecurityID]; ok {
				quoted++
			}
		}
		out = append(out, FundEstimate{
			Fund:      f,
			Valuation: valuation.Evaluate(f, s.priceCache),
			Quoted:    quoted,
		})
	}
	return out, nil
}

// LastPollAt returns the time of the last price poll, zero if none ran
func (s *Service) LastPollAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPollAt
}

// History returns a fund's intraday series, smoothed with the given EMA period
func (s *Service) History(code string, period int) (history.Summary, error) {
	fund, err := s.funds.Get(code)
	if err != nil {
		return history.Summary{}, fmt.Errorf("failed to look up fund: %w", err)
	}
	if fund == nil {
		return history.Summary{}, ErrFundNotFound
	}

	points, err := s.history.Read(code)
	if err != nil {
		return history.Summary{}, fmt.Errorf("failed to read history: %w", err)
	}
	return history.Summarize(points, period), nil
}

// SetEquityRatio overrides a fund's equity ratio, in percent
func (s *Service) SetEquityRatio(code string, ratio float64) (*domain.FundRecord, error) {
	if !(ratio > 0 && ratio <= 100) {
		return nil, ErrInvalidRatio
	}

	fund, err := s.funds.Update(code, func(fund *domain.FundRecord) error {
		fund.EquityRatio = domain.Float64Ptr(ratio)
		return nil
	})
	if errors.Is(err, funds.ErrNotFound) {
		return nil, ErrFundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save fund: %w", err)
	}

	s.log.Info().Str("fund", code).Float64("ratio", ratio).Msg("Equity ratio updated")
	return fund, nil
}

// UpdateRefreshInterval persists a new poll interval, clamped to the minimum, and
// notifies listeners
func (s *Service) UpdateRefreshInterval(seconds int) (domain.AppConfig, error) {
	if seconds < domain.MinRefreshInterval {
		seconds = domain.MinRefreshInterval
	}

	cfg, err := s.funds.Config()
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	cfg.RefreshInterval = seconds

	cfg, err = s.funds.SaveConfig(cfg)
	if err != nil {
		return cfg, err
	}

	s.log.Info().Int("refresh_interval", cfg.RefreshInterval).Msg("Refresh interval updated")

	s.listenersMu.Lock()
	listeners := append([]func(int){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(cfg.RefreshInterval)
	}
	return cfg, nil
}
