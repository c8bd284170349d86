package funds

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/navwatch/internal/codec"
	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/aristath/navwatch/internal/modules/calendar"
	"github.com/aristath/navwatch/internal/modules/history"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, kv kvstore.Store) (*Repository, *history.Store) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	hist := history.NewStore(kv, loc, calendar.DefaultSessions(), history.Config{}, zerolog.Nop())
	return NewRepository(kv, hist, zerolog.Nop()), hist
}

func sampleFund(code string) domain.FundRecord {
	return domain.FundRecord{
		FundID: code,
		Name:   "测试基金" + code,
		Holdings: []domain.Holding{
			{SecurityID: "600519", Name: "贵州茅台", Weight: 0.1},
			{SecurityID: "00700", Name: "腾讯控股", Weight: 0.05},
		},
		PriorNav:        domain.Float64Ptr(1.5),
		LastRefreshedAt: 1728000000000,
	}
}

func seedHistory(t *testing.T, kv kvstore.Store, code string) {
	encoded, err := codec.Encode([]domain.HistoryPoint{{Timestamp: 1728453600000, EstimatedChange: 0.5}})
	require.NoError(t, err)
	require.NoError(t, kv.Set(history.Key(code), encoded))
}

func TestRepository_ListEmpty(t *testing.T) {
	repo, _ := newTestRepo(t, kvstore.NewMemoryStore(0))

	funds, err := repo.List()
	require.NoError(t, err)
	assert.NotNil(t, funds)
	assert.Empty(t, funds)

	fund, err := repo.Get("000001")
	require.NoError(t, err)
	assert.Nil(t, fund)
}

func TestRepository_SaveKeepsOrder(t *testing.T) {
	repo, _ := newTestRepo(t, kvstore.NewMemoryStore(0))

	require.NoError(t, repo.Save(sampleFund("000001")))
	require.NoError(t, repo.Save(sampleFund("000002")))

	updated := sampleFund("000001")
	updated.Name = "renamed"
	require.NoError(t, repo.Save(updated))

	funds, err := repo.List()
	require.NoError(t, err)
	require.Len(t, funds, 2)
	assert.Equal(t, "000001", funds[0].FundID)
	assert.Equal(t, "renamed", funds[0].Name)
	assert.Equal(t, "000002", funds[1].FundID)

	got, err := repo.Get("000002")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleFund("000002"), *got)
}

func TestRepository_StoredCompressed(t *testing.T) {
	kv := kvstore.NewMemoryStore(0)
	repo, _ := newTestRepo(t, kv)
	require.NoError(t, repo.Save(sampleFund("000001")))

	raw, ok, err := kv.Get(KeyFunds)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(raw, codec.VersionMarker))
}

func TestRepository_DeleteCascadesHistory(t *testing.T) {
	kv := kvstore.NewMemoryStore(0)
	repo, _ := newTestRepo(t, kv)
	require.NoError(t, repo.Save(sampleFund("000001")))
	require.NoError(t, repo.Save(sampleFund("000002")))
	seedHistory(t, kv, "000001")
	seedHistory(t, kv, "000002")

	existed, err := repo.Delete("000001")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err := kv.Get(history.Key("000001"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = kv.Get(history.Key("000002"))
	require.NoError(t, err)
	assert.True(t, ok)

	existed, err = repo.Delete("999999")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRepository_Update(t *testing.T) {
	repo, _ := newTestRepo(t, kvstore.NewMemoryStore(0))
	require.NoError(t, repo.Save(sampleFund("000001")))
	require.NoError(t, repo.Save(sampleFund("000002")))

	updated, err := repo.Update("000002", func(fund *domain.FundRecord) error {
		fund.EquityRatio = domain.Float64Ptr(80)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, updated.EquityRatio)
	assert.Equal(t, 80.0, *updated.EquityRatio)

	funds, err := repo.List()
	require.NoError(t, err)
	require.Len(t, funds, 2)
	assert.Equal(t, "000002", funds[1].FundID)
	require.NotNil(t, funds[1].EquityRatio)
	assert.Equal(t, 80.0, *funds[1].EquityRatio)
}

func TestRepository_UpdateMissingFundIsNotWritten(t *testing.T) {
	repo, _ := newTestRepo(t, kvstore.NewMemoryStore(0))
	require.NoError(t, repo.Save(sampleFund("000001")))
	_, err := repo.Delete("000001")
	require.NoError(t, err)

	called := false
	_, err = repo.Update("000001", func(fund *domain.FundRecord) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)

	funds, err := repo.List()
	require.NoError(t, err)
	assert.Empty(t, funds)
}

func TestRepository_UpdateErrorLeavesRecord(t *testing.T) {
	repo, _ := newTestRepo(t, kvstore.NewMemoryStore(0))
	require.NoError(t, repo.Save(sampleFund("000001")))

	boom := errors.New("boom")
	_, err := repo.Update("000001", func(fund *domain.FundRecord) error {
		fund.Name = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	fund, err := repo.Get("000001")
	require.NoError(t, err)
	assert.Equal(t, "测试基金000001", fund.Name)
}

func TestRepository_WithFund(t *testing.T) {
	repo, _ := newTestRepo(t, kvstore.NewMemoryStore(0))
	require.NoError(t, repo.Save(sampleFund("000001")))

	var seen string
	tracked, err := repo.WithFund("000001", func(fund domain.FundRecord) error {
		seen = fund.Name
		return nil
	})
	require.NoError(t, err)
	assert.True(t, tracked)
	assert.Equal(t, "测试基金000001", seen)

	tracked, err = repo.WithFund("999999", func(domain.FundRecord) error {
		t.Fatal("must not run for an untracked fund")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestRepository_ConfigDefaultsAndClamp(t *testing.T) {
	repo, _ := newTestRepo(t, kvstore.NewMemoryStore(0))

	cfg, err := repo.Config()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRefreshInterval, cfg.RefreshInterval)

	saved, err := repo.SaveConfig(domain.AppConfig{RefreshInterval: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.MinRefreshInterval, saved.RefreshInterval)

	saved, err = repo.SaveConfig(domain.AppConfig{RefreshInterval: 120})
	require.NoError(t, err)
	assert.Equal(t, 120, saved.RefreshInterval)

	cfg, err = repo.Config()
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.RefreshInterval)
}

func TestRepository_QuotaClearsHistoryAndRetries(t *testing.T) {
	kv := kvstore.NewMemoryStore(2000)
	repo, _ := newTestRepo(t, kv)

	filler := strings.Repeat("x", 1950)
	require.NoError(t, kv.Set(history.Key("000009"), filler))

	require.NoError(t, repo.Save(sampleFund("000001")))

	_, ok, err := kv.Get(history.Key("000009"))
	require.NoError(t, err)
	assert.False(t, ok)

	funds, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, funds, 1)
}

func TestRepository_ExportImportRoundTrip(t *testing.T) {
	source, _ := newTestRepo(t, kvstore.NewMemoryStore(0))
	require.NoError(t, source.Save(sampleFund("000001")))
	require.NoError(t, source.Save(sampleFund("000002")))
	_, err := source.SaveConfig(domain.AppConfig{RefreshInterval: 90})
	require.NoError(t, err)

	snapshot, err := source.Export()
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(snapshot)
	require.NoError(t, err)
	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decoded, &payload))
	assert.Contains(t, payload, "funds")
	assert.Contains(t, payload, "config")

	target, _ := newTestRepo(t, kvstore.NewMemoryStore(0))
	assert.True(t, target.Import(snapshot))

	want, err := source.List()
	require.NoError(t, err)
	got, err := target.List()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cfg, err := target.Config()
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.RefreshInterval)
}

func TestRepository_ImportWithoutConfigUsesDefaults(t *testing.T) {
	repo, _ := newTestRepo(t, kvstore.NewMemoryStore(0))
	_, err := repo.SaveConfig(domain.AppConfig{RefreshInterval: 300})
	require.NoError(t, err)

	snapshot := base64.StdEncoding.EncodeToString([]byte(`{"funds":[{"code":"000001","name":"A","holdings":[],"lastUpdate":0}]}`))
	assert.True(t, repo.Import(snapshot))

	cfg, err := repo.Config()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRefreshInterval, cfg.RefreshInterval)
}

func TestRepository_ImportRejectsMalformed(t *testing.T) {
	kv := kvstore.NewMemoryStore(0)
	repo, _ := newTestRepo(t, kv)
	require.NoError(t, repo.Save(sampleFund("000001")))
	before, _, err := kv.Get(KeyFunds)
	require.NoError(t, err)

	encode := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	tests := []struct {
		name     string
		snapshot string
	}{
		{"not base64", "%%%"},
		{"not json", encode("hello")},
		{"missing funds", encode(`{"config":{"refreshInterval":60}}`)},
		{"funds not a list", encode(`{"funds":{"code":"1"}}`)},
		{"null funds", encode(`{"funds":null}`)},
		{"fund without code", encode(`{"funds":[{"name":"x"}]}`)},
		{"duplicate fund", encode(`{"funds":[{"code":"1"},{"code":"1"}]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, repo.Import(tt.snapshot))
			after, _, err := kv.Get(KeyFunds)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

// failingConfigStore accepts fund writes but rejects config writes
type failingConfigStore struct {
	*kvstore.MemoryStore
	fail bool
}

func (s *failingConfigStore) Set(key, value string) error {
	if s.fail && key == KeyConfig {
		return assert.AnError
	}
	return s.MemoryStore.Set(key, value)
}

func TestRepository_ImportRollsBack(t *testing.T) {
	kv := &failingConfigStore{MemoryStore: kvstore.NewMemoryStore(0)}
	repo, _ := newTestRepo(t, kv)
	require.NoError(t, repo.Save(sampleFund("000001")))
	_, err := repo.SaveConfig(domain.AppConfig{RefreshInterval: 45})
	require.NoError(t, err)

	kv.fail = true
	snapshot := base64.StdEncoding.EncodeToString([]byte(`{"funds":[{"code":"000002","name":"B","holdings":[],"lastUpdate":0}],"config":{"refreshInterval":60}}`))
	assert.False(t, repo.Import(snapshot))

	funds, err := repo.List()
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.Equal(t, "000001", funds[0].FundID)

	cfg, err := repo.Config()
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.RefreshInterval)
}

func TestRepository_MigratesLegacyList(t *testing.T) {
	kv := kvstore.NewMemoryStore(0)
	legacy := []domain.FundRecord{sampleFund("000001"), sampleFund("000002")}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, kv.Set(KeyFunds, string(data)))
	seedHistory(t, kv, "000001")

	repo, _ := newTestRepo(t, kv)
	funds, err := repo.List()
	require.NoError(t, err)
	assert.Equal(t, legacy, funds)

	raw, _, err := kv.Get(KeyFunds)
	require.NoError(t, err)
	assert.False(t, codec.IsLegacy(raw))

	keys, err := kv.Keys(history.KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
