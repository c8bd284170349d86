// Package holdings assembles a fund's current holdings, prior NAV and equity ratio
// from the Eastmoney providers.
package holdings

import (
	"context"
	"time"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/queue"
	"github.com/rs/zerolog"
)

// Calendar is the part of the trading calendar the resolver needs
type Calendar interface {
	LastTradingDay(t time.Time) time.Time
	Location() *time.Location
}

// BasicInfoProvider returns a fund's name and prior NAV. It does not touch shared state.
type BasicInfoProvider interface {
	FetchBasicInfo(ctx context.Context, code string) (domain.BasicInfo, error)
}

// SlotProvider loads data through the shared script namespace.
// Both methods must only run through the fetch serializer.
type SlotProvider interface {
	LoadHoldings(ctx context.Context, code string) ([]domain.Holding, error)
	LoadTrends(ctx context.Context, code string) (domain.FundTrends, error)
}

// Resolver produces best-effort fund snapshots. It has no persistence side effects.
type Resolver struct {
	calendar   Calendar
	serializer *queue.Serializer
	basic      BasicInfoProvider
	slot       SlotProvider
	log        zerolog.Logger
	now        func() time.Time
}

// NewResolver creates a resolver
func NewResolver(calendar Calendar, serializer *queue.Serializer, basic BasicInfoProvider, slot SlotProvider, log zerolog.Logger) *Resolver {
	return &Resolver{
		calendar:   calendar,
		serializer: serializer,
		basic:      basic,
		slot:       slot,
		log:        log.With().Str("service", "holdings_resolver").Logger(),
		now:        time.Now,
	}
}

// Resolve returns the current snapshot of a fund.
// Returns nil, nil when nothing could be resolved: no holdings and only the placeholder
// name. Callers must not overwrite existing data in that case.
func (r *Resolver) Resolve(ctx context.Context, code string) (*domain.Resolution, error) {
	lastTradingDay := r.calendar.LastTradingDay(r.now()).Format("2006-01-02")

	// Basic info uses its own channel and runs alongside the serialized loads
	basicCh := make(chan domain.BasicInfo, 1)
	go func() {
		info, err := r.basic.FetchBasicInfo(ctx, code)
		if err != nil {
			r.log.Warn().Err(err).Str("fund", code).Msg("Basic info lookup failed")
			info = domain.BasicInfo{Name: domain.PlaceholderFundName(code)}
		}
		basicCh <- info
	}()

	holdings, err := queue.Do(ctx, r.serializer, "holdings:"+code, func(ctx context.Context) ([]domain.Holding, error) {
		return r.slot.LoadHoldings(ctx, code)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn().Err(err).Str("fund", code).Msg("Holdings unavailable")
		holdings = []domain.Holding{}
	}

	trends, err := queue.Do(ctx, r.serializer, "trends:"+code, func(ctx context.Context) (domain.FundTrends, error) {
		return r.slot.LoadTrends(ctx, code)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn().Err(err).Str("fund", code).Msg("Trends unavailable")
		trends = domain.FundTrends{}
	}

	var basic domain.BasicInfo
	select {
	case basic = <-basicCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if len(holdings) == 0 && basic.Name == domain.PlaceholderFundName(code) {
		r.log.Info().Str("fund", code).Msg("Fund could not be resolved")
		return nil, nil
	}

	res := &domain.Resolution{
		Name:        basic.Name,
		Holdings:    holdings,
		PriorNav:    basic.PriorNav,
		EquityRatio: trends.LatestEquityRatio(),
	}

	// The quick lookup can lag a day behind; prefer a newer published NAV from the trend
	if latest := trends.LatestNav(); latest != nil && basic.AsOf < lastTradingDay {
		trendDate := time.UnixMilli(latest.Timestamp).In(r.calendar.Location()).Format("2006-01-02")
		if trendDate > basic.AsOf {
			r.log.Debug().
				Str("fund", code).
				Str("basic_as_of", basic.AsOf).
				Str("trend_date", trendDate).
				Float64("nav", latest.Nav).
				Msg("Using newer NAV from trend")
			res.PriorNav = domain.Float64Ptr(latest.Nav)
		}
	}

	return res, nil
}
