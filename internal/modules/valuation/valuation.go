// Package valuation estimates a fund's intraday change from its holdings and live quotes.
package valuation

import (
	"github.com/aristath/navwatch/internal/domain"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// navDecimals is the precision NAVs are published with
const navDecimals = 4

// Evaluate computes the estimate and the equity-ratio corrected estimate of a fund.
//
// The estimate is the weight-weighted sum of percent changes over holdings with a quote.
// The correction averages that over the total disclosed weight (quoted or not) and
// rescales it by the equity ratio, which defaults to 95.
func Evaluate(fund domain.FundRecord, quotes map[string]domain.PriceQuote) domain.ValuationResult {
	weights := make([]float64, 0, len(fund.Holdings))
	quotedWeights := make([]float64, 0, len(fund.Holdings))
	changes := make([]float64, 0, len(fund.Holdings))

	for _, h := range fund.Holdings {
		weights = append(weights, h.Weight)
		if q, ok := quotes[h.SecurityID]; ok {
			quotedWeights = append(quotedWeights, h.Weight)
			changes = append(changes, q.PercentChange)
		}
	}

	var estimate float64
	if len(changes) > 0 {
		estimate = floats.Dot(changes, quotedWeights)
	}

	totalWeight := floats.Sum(weights)
	correction := estimate
	if totalWeight > 0 {
		correction = estimate / totalWeight * fund.EffectiveEquityRatio() / 100
	}

	result := domain.ValuationResult{
		Estimate:   estimate,
		Correction: correction,
	}
	if fund.PriorNav != nil && *fund.PriorNav > 0 {
		result.EstimatedNav = projectNav(*fund.PriorNav, estimate)
		result.CorrectionNav = projectNav(*fund.PriorNav, correction)
	}
	return result
}

// projectNav applies a percent change to a NAV, rounded to the published precision
func projectNav(nav, percent float64) *float64 {
	projected := decimal.NewFromFloat(nav).
		Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(percent).Div(decimal.NewFromInt(100)))).
		Round(navDecimals).
		InexactFloat64()
	return &projected
}

// Snapshot records the holdings that have a quote, in holding order.
func Snapshot(fund domain.FundRecord, quotes map[string]domain.PriceQuote) []domain.SnapshotEntry {
	entries := make([]domain.SnapshotEntry, 0, len(fund.Holdings))
	for _, h := range fund.Holdings {
		q, ok := quotes[h.SecurityID]
		if !ok {
			continue
		}
		entries = append(entries, domain.SnapshotEntry{
			SecurityID:    h.SecurityID,
			Weight:        h.Weight,
			PercentChange: q.PercentChange,
			Price:         q.Price,
		})
	}
	return entries
}
