// Package funds persists the tracked fund list and the user configuration.
package funds

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aristath/navwatch/internal/codec"
	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/rs/zerolog"
)

// Byte store keys
const (
	KeyFunds  = "navwatch_funds"
	KeyConfig = "navwatch_config"
)

// ErrNotFound is returned when a fund is not tracked
var ErrNotFound = errors.New("fund not found")

// HistoryPartitions is the part of the history store the repository cascades into
type HistoryPartitions interface {
	Delete(fundID string) error
	DeleteAll() (int, error)
}

// Repository owns the fund list and the app configuration
type Repository struct {
	store   kvstore.Store
	history HistoryPartitions
	log     zerolog.Logger

	mu          sync.Mutex
	migrateOnce sync.Once
	migrateErr  error
}

// NewRepository creates a repository
func NewRepository(store kvstore.Store, history HistoryPartitions, log zerolog.Logger) *Repository {
	return &Repository{
		store:   store,
		history: history,
		log:     log.With().Str("component", "fund_repository").Logger(),
	}
}

// Migrate rewrites a legacy uncompressed fund list in the compressed schema.
// History partitions are deleted first to make room. It runs at most once per process;
// later calls return the first outcome.
func (r *Repository) Migrate() error {
	r.migrateOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.migrateErr = r.migrate()
	})
	return r.migrateErr
}

func (r *Repository) migrate() error {
	raw, ok, err := r.store.Get(KeyFunds)
	if err != nil {
		return fmt.Errorf("failed to read fund list: %w", err)
	}
	if !ok || !codec.IsLegacy(raw) {
		return nil
	}

	r.log.Info().Msg("Legacy fund list detected, migrating")

	removed, err := r.history.DeleteAll()
	if err != nil {
		return fmt.Errorf("failed to clear history before migration: %w", err)
	}

	var funds []domain.FundRecord
	if err := codec.Decode(raw, &funds); err != nil {
		return fmt.Errorf("failed to parse legacy fund list: %w", err)
	}
	if err := r.writeFunds(funds); err != nil {
		return fmt.Errorf("failed to rewrite fund list: %w", err)
	}

	r.log.Info().Int("funds", len(funds)).Int("history_removed", removed).Msg("Fund list migrated")
	return nil
}

// List returns the tracked funds in insertion order
func (r *Repository) List() ([]domain.FundRecord, error) {
	if err := r.Migrate(); err != nil {
		r.log.Warn().Err(err).Msg("Fund list migration failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readFunds()
}

func (r *Repository) readFunds() ([]domain.FundRecord, error) {
	funds := make([]domain.FundRecord, 0)
	raw, ok, err := r.store.Get(KeyFunds)
	if err != nil {
		return nil, fmt.Errorf("failed to read fund list: %w", err)
	}
	if !ok || raw == "" {
		return funds, nil
	}
	if err := codec.Decode(raw, &funds); err != nil {
		return nil, fmt.Errorf("failed to decode fund list: %w", err)
	}
	return funds, nil
}

// Get returns one fund. Returns nil, nil if not exists.
func (r *Repository) Get(code string) (*domain.FundRecord, error) {
	funds, err := r.List()
	if err != nil {
		return nil, err
	}
	for i := range funds {
		if funds[i].FundID == code {
			return &funds[i], nil
		}
	}
	return nil, nil
}

// SaveAll replaces the fund list
func (r *Repository) SaveAll(funds []domain.FundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeFunds(funds)
}

// Save inserts or replaces one fund, keeping the list order
func (r *Repository) Save(fund domain.FundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	funds, err := r.readFunds()
	if err != nil {
		return err
	}

	replaced := false
	for i := range funds {
		if funds[i].FundID == fund.FundID {
			funds[i] = fund
			replaced = true
			break
		}
	}
	if !replaced {
		funds = append(funds, fund)
	}
	return r.writeFunds(funds)
}

// Update applies fn to a tracked fund and persists the result. The read, fn and the
// write happen under the repository lock, so a fund removed concurrently is never
// written back. Returns ErrNotFound when the fund is not tracked and fn's error as is.
func (r *Repository) Update(code string, fn func(fund *domain.FundRecord) error) (*domain.FundRecord, error) {
	if err := r.Migrate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	funds, err := r.readFunds()
	if err != nil {
		return nil, err
	}
	for i := range funds {
		if funds[i].FundID != code {
			continue
		}
		updated := funds[i]
		if err := fn(&updated); err != nil {
			return nil, err
		}
		funds[i] = updated
		if err := r.writeFunds(funds); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, ErrNotFound
}

// WithFund runs fn with the current record of a tracked fund while holding the
// repository lock. Writes fn makes for the fund cannot interleave with Delete and its
// history cascade. Reports false without calling fn when the fund is not tracked.
func (r *Repository) WithFund(code string, fn func(fund domain.FundRecord) error) (bool, error) {
	if err := r.Migrate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	funds, err := r.readFunds()
	if err != nil {
		return false, err
	}
	for _, f := range funds {
		if f.FundID == code {
			return true, fn(f)
		}
	}
	return false, nil
}

// Delete removes a fund and its history. It reports whether the fund existed.
func (r *Repository) Delete(code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	funds, err := r.readFunds()
	if err != nil {
		return false, err
	}

	kept := make([]domain.FundRecord, 0, len(funds))
	for _, f := range funds {
		if f.FundID != code {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(funds) {
		return false, nil
	}

	if err := r.writeFunds(kept); err != nil {
		return false, err
	}
	if err := r.history.Delete(code); err != nil {
		return true, fmt.Errorf("fund removed but history remains: %w", err)
	}
	return true, nil
}

// writeFunds persists the list. When the store is full, history is cleared and the
// write retried once.
func (r *Repository) writeFunds(funds []domain.FundRecord) error {
	if funds == nil {
		funds = []domain.FundRecord{}
	}
	encoded, err := codec.Encode(funds)
	if err != nil {
		return fmt.Errorf("failed to encode fund list: %w", err)
	}

	err = r.store.Set(KeyFunds, encoded)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kvstore.ErrQuotaExceeded) {
		return fmt.Errorf("failed to save fund list: %w", err)
	}

	r.log.Warn().Msg("Store full while saving fund list, clearing history")
	if _, err := r.history.DeleteAll(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	if err := r.store.Set(KeyFunds, encoded); err != nil {
		return fmt.Errorf("failed to save fund list after clearing history: %w", err)
	}
	return nil
}

// Config returns the saved configuration, or the defaults
func (r *Repository) Config() (domain.AppConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readConfig()
}

func (r *Repository) readConfig() (domain.AppConfig, error) {
	cfg := domain.DefaultAppConfig()
	raw, ok, err := r.store.Get(KeyConfig)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if !ok || raw == "" {
		return cfg, nil
	}
	if err := codec.Decode(raw, &cfg); err != nil {
		r.log.Warn().Err(err).Msg("Unreadable config, using defaults")
		return domain.DefaultAppConfig(), nil
	}
	return normalizeConfig(cfg), nil
}

// SaveConfig persists the configuration. The refresh interval is clamped to the minimum.
func (r *Repository) SaveConfig(cfg domain.AppConfig) (domain.AppConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg = normalizeConfig(cfg)
	encoded, err := codec.Encode(cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := r.store.Set(KeyConfig, encoded); err != nil {
		return cfg, fmt.Errorf("failed to save config: %w", err)
	}
	return cfg, nil
}

func normalizeConfig(cfg domain.AppConfig) domain.AppConfig {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = domain.DefaultRefreshInterval
	}
	if cfg.RefreshInterval < domain.MinRefreshInterval {
		cfg.RefreshInterval = domain.MinRefreshInterval
	}
	return cfg
}

// exportPayload is the snapshot format, using the long JSON field names
type exportPayload struct {
	Funds  []domain.FundRecord `json:"funds"`
	Config *domain.AppConfig   `json:"config,omitempty"`
}

// Export returns base64 encoded JSON of the fund list and configuration
func (r *Repository) Export() (string, error) {
	funds, err := r.List()
	if err != nil {
		return "", err
	}
	cfg, err := r.Config()
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(exportPayload{Funds: funds, Config: &cfg})
	if err != nil {
		return "", fmt.Errorf("failed to marshal export: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Import replaces the fund list and configuration with a snapshot produced by Export.
// It returns false and leaves state untouched when the snapshot is malformed or
// cannot be stored. A snapshot without a config restores the defaults.
func (r *Repository) Import(snapshot string) bool {
	payload, err := parseSnapshot(snapshot)
	if err != nil {
		r.log.Warn().Err(err).Msg("Rejected import")
		return false
	}

	cfg := domain.DefaultAppConfig()
	if payload.Config != nil {
		cfg = normalizeConfig(*payload.Config)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, err := r.readFunds()
	if err != nil {
		r.log.Warn().Err(err).Msg("Import aborted, current fund list unreadable")
		return false
	}
	prevFunds, hadFunds, err1 := r.store.Get(KeyFunds)
	prevConfig, hadConfig, err2 := r.store.Get(KeyConfig)
	if err1 != nil || err2 != nil {
		r.log.Warn().Msg("Import aborted, current state unreadable")
		return false
	}

	encodedCfg, err := codec.Encode(cfg)
	if err == nil {
		err = r.writeFunds(payload.Funds)
	}
	if err == nil {
		err = r.store.Set(KeyConfig, encodedCfg)
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("Import failed, restoring previous state")
		r.restore(KeyFunds, prevFunds, hadFunds)
		r.restore(KeyConfig, prevConfig, hadConfig)
		return false
	}

	// Funds that are no longer tracked take their history with them
	kept := make(map[string]bool, len(payload.Funds))
	for _, f := range payload.Funds {
		kept[f.FundID] = true
	}
	for _, f := range previous {
		if !kept[f.FundID] {
			if err := r.history.Delete(f.FundID); err != nil {
				r.log.Warn().Err(err).Str("fund", f.FundID).Msg("Failed to drop history of removed fund")
			}
		}
	}

	r.log.Info().Int("funds", len(payload.Funds)).Int("refresh_interval", cfg.RefreshInterval).Msg("Snapshot imported")
	return true
}

func (r *Repository) restore(key, value string, existed bool) {
	var err error
	if existed {
		err = r.store.Set(key, value)
	} else {
		err = r.store.Delete(key)
	}
	if err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("Failed to restore previous value")
	}
}

// parseSnapshot decodes and validates an export snapshot
func parseSnapshot(snapshot string) (*exportPayload, error) {
	data, err := base64.StdEncoding.DecodeString(snapshot)
	if err != nil {
		return nil, fmt.Errorf("snapshot is not base64: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("snapshot is not a JSON object: %w", err)
	}
	if _, ok := raw["funds"]; !ok {
		return nil, errors.New("snapshot has no funds")
	}

	var payload exportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	if payload.Funds == nil {
		return nil, errors.New("snapshot funds is not a list")
	}

	seen := make(map[string]bool, len(payload.Funds))
	for _, f := range payload.Funds {
		if f.FundID == "" {
			return nil, errors.New("snapshot contains a fund without a code")
		}
		if seen[f.FundID] {
			return nil, fmt.Errorf("snapshot contains fund %s twice", f.FundID)
		}
		seen[f.FundID] = true
	}
	return &payload, nil
}
