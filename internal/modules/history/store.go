// Package history stores each fund's intraday estimate series.
//
// A fund's series lives in one byte-store partition, holds only the current calendar
// day, keeps at most one point per minute and is capped in length. Writes that hit the
// store quota are retried with a short tail and, failing that, the partition is dropped.
package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/navwatch/internal/codec"
	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/aristath/navwatch/internal/modules/calendar"
	"github.com/rs/zerolog"
)

// KeyPrefix prefixes every history partition key
const KeyPrefix = "navwatch_history_"

// Key returns the partition key of a fund
func Key(fundID string) string {
	return KeyPrefix + fundID
}

// Config holds the series caps
type Config struct {
	MaxPoints       int // Points kept per fund
	EmergencyPoints int // Tail kept when the store is full
}

// Store persists intraday series
type Store struct {
	store    kvstore.Store
	loc      *time.Location
	sessions calendar.Sessions
	cfg      Config
	log      zerolog.Logger

	// Serializes read-modify-write cycles
	mu sync.Mutex
}

// NewStore creates a history store. Day boundaries and session times use loc.
func NewStore(store kvstore.Store, loc *time.Location, sessions calendar.Sessions, cfg Config, log zerolog.Logger) *Store {
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = 200
	}
	if cfg.EmergencyPoints <= 0 || cfg.EmergencyPoints > cfg.MaxPoints {
		cfg.EmergencyPoints = min(30, cfg.MaxPoints)
	}
	return &Store{
		store:    store,
		loc:      loc,
		sessions: sessions,
		cfg:      cfg,
		log:      log.With().Str("component", "history").Logger(),
	}
}

// EffectiveTimestamp maps an instant to the time its point is recorded at.
// Instants strictly inside the lunch break map to the morning close and instants after
// the afternoon close map to the afternoon close, so idle polls extend the last bucket.
func (s *Store) EffectiveTimestamp(now time.Time) time.Time {
	t := now.In(s.loc)
	morningClose := s.sessions.Morning.Close.On(t)
	afternoonOpen := s.sessions.Afternoon.Open.On(t)
	afternoonClose := s.sessions.Afternoon.Close.On(t)

	switch {
	case t.After(morningClose) && t.Before(afternoonOpen):
		return morningClose
	case t.After(afternoonClose):
		return afternoonClose
	default:
		return t
	}
}

// Read returns the retained series of a fund, or an empty series.
func (s *Store) Read(fundID string) ([]domain.HistoryPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(fundID)
}

func (s *Store) read(fundID string) ([]domain.HistoryPoint, error) {
	raw, ok, err := s.store.Get(Key(fundID))
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", fundID, err)
	}
	points := make([]domain.HistoryPoint, 0)
	if !ok || raw == "" {
		return points, nil
	}
	if err := codec.Decode(raw, &points); err != nil {
		s.log.Warn().Err(err).Str("fund", fundID).Msg("Discarding unreadable history")
		return make([]domain.HistoryPoint, 0), nil
	}
	return points, nil
}

// Append records an estimate at the given instant.
// Points from earlier days are dropped, a point in the same minute as the last one
// replaces it, and the series is trimmed to MaxPoints. Quota errors are absorbed.
func (s *Store) Append(fundID string, estimate float64, snapshot []domain.SnapshotEntry, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.In(s.loc)
	existing, err := s.read(fundID)
	if err != nil {
		return err
	}

	points := make([]domain.HistoryPoint, 0, len(existing)+1)
	for _, p := range existing {
		if sameDay(time.UnixMilli(p.Timestamp).In(s.loc), at) {
			points = append(points, p)
		}
	}

	point := domain.HistoryPoint{
		Timestamp:        at.UnixMilli(),
		EstimatedChange:  estimate,
		HoldingsSnapshot: snapshot,
	}

	if n := len(points); n > 0 {
		last := time.UnixMilli(points[n-1].Timestamp).In(s.loc)
		switch {
		case last.Hour() == at.Hour() && last.Minute() == at.Minute():
			points[n-1] = point
		case at.Before(last):
			s.log.Debug().Str("fund", fundID).Time("at", at).Time("last", last).Msg("Ignoring out-of-order point")
			return nil
		default:
			points = append(points, point)
		}
	} else {
		points = append(points, point)
	}

	if len(points) > s.cfg.MaxPoints {
		points = points[len(points)-s.cfg.MaxPoints:]
	}

	return s.persist(fundID, points)
}

// persist writes the series, falling back to the emergency tail and then to deletion
func (s *Store) persist(fundID string, points []domain.HistoryPoint) error {
	err := s.write(fundID, points)
	if err == nil || !errors.Is(err, kvstore.ErrQuotaExceeded) {
		return err
	}

	s.log.Warn().Str("fund", fundID).Int("points", len(points)).Msg("Store full, keeping emergency tail")
	if len(points) > s.cfg.EmergencyPoints {
		points = points[len(points)-s.cfg.EmergencyPoints:]
	}
	err = s.write(fundID, points)
	if err == nil || !errors.Is(err, kvstore.ErrQuotaExceeded) {
		return err
	}

	s.log.Error().Str("fund", fundID).Msg("Store still full, dropping history partition")
	if err := s.store.Delete(Key(fundID)); err != nil {
		return fmt.Errorf("failed to drop history of %s: %w", fundID, err)
	}
	return nil
}

func (s *Store) write(fundID string, points []domain.HistoryPoint) error {
	encoded, err := codec.Encode(points)
	if err != nil {
		return fmt.Errorf("failed to encode history of %s: %w", fundID, err)
	}
	if err := s.store.Set(Key(fundID), encoded); err != nil {
		return fmt.Errorf("failed to write history of %s: %w", fundID, err)
	}
	return nil
}

// Delete removes a fund's partition
func (s *Store) Delete(fundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(Key(fundID)); err != nil {
		return fmt.Errorf("failed to delete history of %s: %w", fundID, err)
	}
	return nil
}

// DeleteAll removes every partition and returns how many were removed
func (s *Store) DeleteAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.Keys(KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list history partitions: %w", err)
	}
	for _, key := range keys {
		if err := s.store.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return len(keys), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
