package codec

import (
	"encoding/json"
	"testing"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFunds() []domain.FundRecord {
	return []domain.FundRecord{
		{
			FundID: "005827",
			Name:   "易方达蓝筹精选混合",
			Holdings: []domain.Holding{
				{SecurityID: "600519", Name: "贵州茅台", Weight: 0.0958},
				{SecurityID: "00700", Name: "腾讯控股", Weight: 0.0812},
			},
			PriorNav:        domain.Float64Ptr(1.8734),
			EquityRatio:     domain.Float64Ptr(91.5),
			LastRefreshedAt: 1700000000000,
		},
		{FundID: "000001", Name: "华夏成长", Holdings: []domain.Holding{{SecurityID: "000858", Name: "五粮液", Weight: 0.05}}, LastRefreshedAt: 1},
	}
}

func TestEncodeDecode_CurrentSchema(t *testing.T) {
	funds := sampleFunds()

	text, err := Encode(funds)
	require.NoError(t, err)
	assert.True(t, len(text) > len(VersionMarker))
	assert.Equal(t, VersionMarker, text[:len(VersionMarker)])
	assert.False(t, IsLegacy(text))

	var decoded []domain.FundRecord
	require.NoError(t, Decode(text, &decoded))
	assert.Equal(t, funds, decoded)
}

func TestDecode_LegacyJSON(t *testing.T) {
	funds := sampleFunds()
	raw, err := json.Marshal(funds)
	require.NoError(t, err)
	assert.True(t, IsLegacy(string(raw)))

	var decoded []domain.FundRecord
	require.NoError(t, Decode(string(raw), &decoded))
	assert.Equal(t, funds, decoded)
}

func TestDecode_HistorySeries(t *testing.T) {
	points := []domain.HistoryPoint{
		{Timestamp: 1700000000000, EstimatedChange: 0.42},
		{
			Timestamp:       1700000060000,
			EstimatedChange: -0.13,
			HoldingsSnapshot: []domain.SnapshotEntry{
				{SecurityID: "600519", Weight: 0.09, PercentChange: -1.2, Price: 1688.5},
			},
		},
	}

	text, err := Encode(points)
	require.NoError(t, err)

	var decoded []domain.HistoryPoint
	require.NoError(t, Decode(text, &decoded))
	assert.Equal(t, points, decoded)
}

func TestDecode_Errors(t *testing.T) {
	var v []domain.FundRecord

	tests := []struct {
		name string
		text string
	}{
		{"unknown marker", "v9.abc"},
		{"bad base64", VersionMarker + "!!!"},
		{"not zlib", VersionMarker + "aGVsbG8="},
		{"bad legacy json", "[{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Decode(tt.text, &v))
		})
	}

	assert.ErrorIs(t, Decode("plain", &v), ErrUnknownFormat)
}
