package domain

// HolidayRecord is one day of the holiday calendar, keyed by ISO date.
// A record with IsHoliday == false on a weekend marks a make-up workday.
type HolidayRecord struct {
	Date      string `json:"date"` // YYYY-MM-DD
	IsHoliday bool   `json:"holiday"`
	Name      string `json:"name"`
	Wage      int    `json:"wage"`
}

// PriceQuote is a live quote for one security. It is never persisted.
type PriceQuote struct {
	SecurityID    string  `json:"code"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	PrevClose     float64 `json:"prevClose"`
	PercentChange float64 `json:"percent"`
}

// BasicInfo is the quick fund lookup: name, prior NAV and the date that NAV is for.
type BasicInfo struct {
	Name     string   `json:"name"`
	PriorNav *float64 `json:"dwjz,omitempty"`
	AsOf     string   `json:"jzrq,omitempty"` // YYYY-MM-DD, empty when unknown
}

// PlaceholderFundName is the name reported for a fund whose basic info is unavailable
func PlaceholderFundName(code string) string {
	return "基金" + code
}

// NavPoint is one point of a fund's published NAV trend
type NavPoint struct {
	Timestamp int64   `json:"x"` // unix ms
	Nav       float64 `json:"y"`
}

// RatioPoint is one point of a fund's equity-ratio trend
type RatioPoint struct {
	Timestamp int64   `json:"timestamp"` // unix ms
	Ratio     float64 `json:"ratio"`     // percent
}

// FundTrends holds the secondary time series published for a fund
type FundTrends struct {
	Nav         []NavPoint
	EquityRatio []RatioPoint
}

// Resolution is a best-effort snapshot of a fund assembled from the providers
type Resolution struct {
	Name        string
	Holdings    []Holding
	PriorNav    *float64
	EquityRatio *float64
}

// ValuationResult is the intraday estimate of a fund
type ValuationResult struct {
	Estimate      float64  `json:"estimate"` // percent
	EstimatedNav  *float64 `json:"estimatedNav,omitempty"`
	Correction    float64  `json:"correction"` // percent
	CorrectionNav *float64 `json:"correctionNav,omitempty"`
}

// SnapshotEntry records one holding's state at the time of a history point
type SnapshotEntry struct {
	SecurityID    string  `json:"code" msgpack:"c"`
	Weight        float64 `json:"ratio" msgpack:"r"`
	PercentChange float64 `json:"percent" msgpack:"p"`
	Price         float64 `json:"price" msgpack:"pr"`
}

// HistoryPoint is one intraday estimate of a fund
type HistoryPoint struct {
	Timestamp        int64           `json:"timestamp" msgpack:"t"` // unix ms
	EstimatedChange  float64         `json:"estimatedChange" msgpack:"e"`
	HoldingsSnapshot []SnapshotEntry `json:"holdingsSnapshot,omitempty" msgpack:"hs,omitempty"`
}

// LatestNav returns the most recent NAV point, or nil when the trend is empty
func (t FundTrends) LatestNav() *NavPoint {
	if len(t.Nav) == 0 {
		return nil
	}
	p := t.Nav[len(t.Nav)-1]
	return &p
}

// LatestEquityRatio returns the most recent equity ratio, or nil when the trend is empty
func (t FundTrends) LatestEquityRatio() *float64 {
	if len(t.EquityRatio) == 0 {
		return nil
	}
	return Float64Ptr(t.EquityRatio[len(t.EquityRatio)-1].Ratio)
}
