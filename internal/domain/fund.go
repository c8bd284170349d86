// Package domain provides core domain models and types.
//
// Persisted structs carry two field mappings: long JSON names (legacy storage and the
// export format) and short msgpack keys (the compressed storage schema).
package domain

// DefaultEquityRatio is assumed when a fund has no known equity ratio (percent)
const DefaultEquityRatio = 95.0

// Holding is one of a fund's disclosed top-ten positions.
// Weights are fractions of fund assets and need not sum to 1.
type Holding struct {
	SecurityID string  `json:"code" msgpack:"c"`
	Name       string  `json:"name" msgpack:"n"`
	Weight     float64 `json:"ratio" msgpack:"r"` // 0.05 for 5%
}

// FundRecord is a tracked fund as persisted in the fund list
type FundRecord struct {
	FundID          string    `json:"code" msgpack:"c"`
	Name            string    `json:"name" msgpack:"n"`
	Holdings        []Holding `json:"holdings" msgpack:"h"`
	PriorNav        *float64  `json:"dwjz,omitempty" msgpack:"d,omitempty"`
	EquityRatio     *float64  `json:"stockRatio,omitempty" msgpack:"sr,omitempty"` // 0-100
	LastRefreshedAt int64     `json:"lastUpdate" msgpack:"lu"`                     // unix ms
}

// EffectiveEquityRatio returns the equity ratio, or DefaultEquityRatio when unset.
func (f FundRecord) EffectiveEquityRatio() float64 {
	if f.EquityRatio == nil {
		return DefaultEquityRatio
	}
	return *f.EquityRatio
}

// SecurityIDs returns the ids of the fund's holdings in order
func (f FundRecord) SecurityIDs() []string {
	ids := make([]string, 0, len(f.Holdings))
	for _, h := range f.Holdings {
		ids = append(ids, h.SecurityID)
	}
	return ids
}

// AppConfig is the persisted user configuration
type AppConfig struct {
	RefreshInterval int `json:"refreshInterval" msgpack:"ri"` // seconds
}

const (
	// MinRefreshInterval is the shortest allowed price poll interval in seconds
	MinRefreshInterval = 30
	// DefaultRefreshInterval is used when no config has been saved
	DefaultRefreshInterval = 60
)

// DefaultAppConfig returns the configuration used before the user saves one
func DefaultAppConfig() AppConfig {
	return AppConfig{RefreshInterval: DefaultRefreshInterval}
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 {
	return &v
}
