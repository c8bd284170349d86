package history

import (
	"github.com/aristath/navwatch/internal/domain"
	"github.com/markcheno/go-talib"
)

// SmoothedPoint is one point of the smoothed intraday curve
type SmoothedPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Summary describes a day's series
type Summary struct {
	Points   int             `json:"points"`
	First    float64         `json:"first"`
	Last     float64         `json:"last"`
	High     float64         `json:"high"`
	Low      float64         `json:"low"`
	Smoothed []SmoothedPoint `json:"smoothed"`
}

// Summarize computes the range of a series and an EMA-smoothed curve.
// With period <= 1 or fewer points than period, the curve is the raw series.
// The warm-up points before the first full EMA window keep their raw values.
func Summarize(points []domain.HistoryPoint, period int) Summary {
	summary := Summary{Points: len(points), Smoothed: make([]SmoothedPoint, 0, len(points))}
	if len(points) == 0 {
		return summary
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.EstimatedChange
	}

	summary.First = values[0]
	summary.Last = values[len(values)-1]
	summary.High = values[0]
	summary.Low = values[0]
	for _, v := range values[1:] {
		summary.High = max(summary.High, v)
		summary.Low = min(summary.Low, v)
	}

	smoothed := values
	if period > 1 && len(values) >= period {
		smoothed = talib.Ema(values, period)
		for i := 0; i < period-1; i++ {
			smoothed[i] = values[i]
		}
	}

	for i, p := range points {
		summary.Smoothed = append(summary.Smoothed, SmoothedPoint{Timestamp: p.Timestamp, Value: smoothed[i]})
	}
	return summary
}
