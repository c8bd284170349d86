package kvstore

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/navwatch/internal/database"
)

// SQLiteStore persists entries in the kv_entries table of the store database.
type SQLiteStore struct {
	db       *sql.DB
	capacity int64
	// Serializes the quota check with the write that follows it
	mu sync.Mutex
}

// NewSQLiteStore creates a store over an already migrated database.
// A capacity <= 0 means unlimited.
func NewSQLiteStore(db *sql.DB, capacity int64) *SQLiteStore {
	return &SQLiteStore{db: db, capacity: capacity}
}

// Get returns "", false, nil if the key doesn't exist.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv_entries WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts the entry, failing with ErrQuotaExceeded when it doesn't fit.
func (s *SQLiteStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if s.capacity > 0 {
			var used int64
			err := tx.QueryRow(
				"SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM kv_entries WHERE key != ?",
				key,
			).Scan(&used)
			if err != nil {
				return fmt.Errorf("failed to measure usage: %w", err)
			}
			if used+entrySize(key, value) > s.capacity {
				return ErrQuotaExceeded
			}
		}

		_, err := tx.Exec(
			"INSERT OR REPLACE INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)",
			key, value, time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
		return nil
	})
}

func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv_entries ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		// Prefix match in Go: LIKE would treat _ in "holiday_" as a wildcard
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Usage() (Usage, error) {
	u := Usage{CapacityBytes: s.capacity}
	err := s.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM kv_entries",
	).Scan(&u.Keys, &u.UsedBytes)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to measure usage: %w", err)
	}
	return u, nil
}
