package history

import (
	"testing"
	"time"

	"github.com/aristath/navwatch/internal/codec"
	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/aristath/navwatch/internal/modules/calendar"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shanghai(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return loc
}

func newTestStore(t *testing.T, kv kvstore.Store, cfg Config) *Store {
	return NewStore(kv, shanghai(t), calendar.DefaultSessions(), cfg, zerolog.Nop())
}

// pointCapStore rejects history writes longer than limit points, like a full byte store
type pointCapStore struct {
	*kvstore.MemoryStore
	limit int
}

func (s *pointCapStore) Set(key, value string) error {
	var points []domain.HistoryPoint
	if err := codec.Decode(value, &points); err == nil && len(points) > s.limit {
		return kvstore.ErrQuotaExceeded
	}
	return s.MemoryStore.Set(key, value)
}

func TestEffectiveTimestamp(t *testing.T) {
	loc := shanghai(t)
	s := newTestStore(t, kvstore.NewMemoryStore(0), Config{})
	day := func(h, m, sec int) time.Time { return time.Date(2024, 10, 9, h, m, sec, 0, loc) }

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"morning session", day(10, 0, 12), day(10, 0, 12)},
		{"morning close", day(11, 30, 0), day(11, 30, 0)},
		{"just after morning close", day(11, 30, 1), day(11, 30, 0)},
		{"lunch", day(12, 15, 0), day(11, 30, 0)},
		{"last lunch second", day(12, 59, 59), day(11, 30, 0)},
		{"afternoon open", day(13, 0, 0), day(13, 0, 0)},
		{"afternoon close", day(15, 30, 0), day(15, 30, 0)},
		{"after close", day(15, 30, 1), day(15, 30, 0)},
		{"evening", day(21, 0, 0), day(15, 30, 0)},
		{"before open", day(8, 0, 0), day(8, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.EffectiveTimestamp(tt.in)), "got %v", s.EffectiveTimestamp(tt.in))
		})
	}
}

func TestEffectiveTimestamp_ConvertsToMarketTime(t *testing.T) {
	loc := shanghai(t)
	s := newTestStore(t, kvstore.NewMemoryStore(0), Config{})

	// 04:00 UTC is 12:00 in Shanghai
	got := s.EffectiveTimestamp(time.Date(2024, 10, 9, 4, 0, 0, 0, time.UTC))
	assert.True(t, time.Date(2024, 10, 9, 11, 30, 0, 0, loc).Equal(got))
}

func TestAppend_SameMinuteOverwrites(t *testing.T) {
	loc := shanghai(t)
	s := newTestStore(t, kvstore.NewMemoryStore(0), Config{MaxPoints: 200, EmergencyPoints: 30})

	require.NoError(t, s.Append("005827", 0.1, nil, time.Date(2024, 10, 9, 10, 0, 5, 0, loc)))
	require.NoError(t, s.Append("005827", 0.2, nil, time.Date(2024, 10, 9, 10, 0, 40, 0, loc)))
	require.NoError(t, s.Append("005827", 0.3, nil, time.Date(2024, 10, 9, 10, 1, 0, 0, loc)))

	points, err := s.Read("005827")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 0.2, points[0].EstimatedChange)
	assert.Equal(t, time.Date(2024, 10, 9, 10, 0, 40, 0, loc).UnixMilli(), points[0].Timestamp)
	assert.Equal(t, 0.3, points[1].EstimatedChange)
}

func TestAppend_DropsPreviousDays(t *testing.T) {
	loc := shanghai(t)
	s := newTestStore(t, kvstore.NewMemoryStore(0), Config{MaxPoints: 200, EmergencyPoints: 30})

	require.NoError(t, s.Append("005827", 0.5, nil, time.Date(2024, 10, 8, 15, 30, 0, 0, loc)))
	require.NoError(t, s.Append("005827", 0.1, nil, time.Date(2024, 10, 9, 9, 30, 0, 0, loc)))

	points, err := s.Read("005827")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 0.1, points[0].EstimatedChange)
}

func TestAppend_CapsLength(t *testing.T) {
	loc := shanghai(t)
	s := newTestStore(t, kvstore.NewMemoryStore(0), Config{MaxPoints: 5, EmergencyPoints: 2})

	start := time.Date(2024, 10, 9, 10, 0, 0, 0, loc)
	for i := 0; i < 8; i++ {
		require.NoError(t, s.Append("005827", float64(i), nil, start.Add(time.Duration(i)*time.Minute)))
	}

	points, err := s.Read("005827")
	require.NoError(t, err)
	require.Len(t, points, 5)
	assert.Equal(t, 3.0, points[0].EstimatedChange)
	assert.Equal(t, 7.0, points[4].EstimatedChange)

	for i := 1; i < len(points); i++ {
		assert.GreaterOrEqual(t, points[i].Timestamp, points[i-1].Timestamp)
	}
}

func TestAppend_IgnoresOutOfOrderPoint(t *testing.T) {
	loc := shanghai(t)
	s := newTestStore(t, kvstore.NewMemoryStore(0), Config{MaxPoints: 200, EmergencyPoints: 30})

	require.NoError(t, s.Append("005827", 0.1, nil, time.Date(2024, 10, 9, 10, 5, 0, 0, loc)))
	require.NoError(t, s.Append("005827", 0.2, nil, time.Date(2024, 10, 9, 10, 1, 0, 0, loc)))

	points, err := s.Read("005827")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 0.1, points[0].EstimatedChange)
}

func TestAppend_KeepsSnapshot(t *testing.T) {
	loc := shanghai(t)
	s := newTestStore(t, kvstore.NewMemoryStore(0), Config{MaxPoints: 200, EmergencyPoints: 30})

	snapshot := []domain.SnapshotEntry{{SecurityID: "600519", Weight: 0.09, PercentChange: 1.5, Price: 1700}}
	require.NoError(t, s.Append("005827", 0.1, snapshot, time.Date(2024, 10, 9, 10, 5, 0, 0, loc)))

	points, err := s.Read("005827")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, snapshot, points[0].HoldingsSnapshot)
}

func TestAppend_QuotaFallsBackToEmergencyTail(t *testing.T) {
	loc := shanghai(t)
	kv := &pointCapStore{MemoryStore: kvstore.NewMemoryStore(0), limit: 4}
	s := newTestStore(t, kv, Config{MaxPoints: 10, EmergencyPoints: 3})

	start := time.Date(2024, 10, 9, 10, 0, 0, 0, loc)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Append("005827", float64(i), nil, start.Add(time.Duration(i)*time.Minute)))
	}

	points, err := s.Read("005827")
	require.NoError(t, err)
	// Writes of 5 points fail; each falls back to the last 3
	require.Len(t, points, 4)
	assert.Equal(t, 5.0, points[len(points)-1].EstimatedChange)
}

func TestAppend_QuotaDeletesPartitionAsLastResort(t *testing.T) {
	loc := shanghai(t)
	kv := &pointCapStore{MemoryStore: kvstore.NewMemoryStore(0), limit: 0}
	s := newTestStore(t, kv, Config{MaxPoints: 10, EmergencyPoints: 3})

	require.NoError(t, kv.MemoryStore.Set(Key("005827"), "stale"))
	require.NoError(t, s.Append("005827", 1, nil, time.Date(2024, 10, 9, 10, 0, 0, 0, loc)))

	_, ok, err := kv.Get(Key("005827"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRead_Missing(t *testing.T) {
	s := newTestStore(t, kvstore.NewMemoryStore(0), Config{})
	points, err := s.Read("nope")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	loc := shanghai(t)
	kv := kvstore.NewMemoryStore(0)
	s := newTestStore(t, kv, Config{})
	at := time.Date(2024, 10, 9, 10, 0, 0, 0, loc)

	for _, id := range []string{"000001", "000002", "000003"} {
		require.NoError(t, s.Append(id, 1, nil, at))
	}
	require.NoError(t, kv.Set("navwatch_funds", "x"))

	require.NoError(t, s.Delete("000001"))
	points, err := s.Read("000001")
	require.NoError(t, err)
	assert.Empty(t, points)

	n, err := s.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := kv.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"navwatch_funds"}, keys)
}
