// Package kvstore provides the string-keyed byte store that backs all persisted state.
// Usage is measured as the total length of keys and values, and writes that would
// exceed the configured capacity fail with ErrQuotaExceeded.
package kvstore

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrQuotaExceeded is returned by Set when the write would exceed the store capacity.
var ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

// Store is a string-keyed, string-valued store with a capacity.
// There are no transactions across keys.
type Store interface {
	// Get returns the value and true, or "", false if the key doesn't exist.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	// Keys returns all keys with the given prefix in lexical order.
	Keys(prefix string) ([]string, error)
	Usage() (Usage, error)
}

// Usage reports how much of the store is in use.
type Usage struct {
	Keys          int   `json:"keys"`
	UsedBytes     int64 `json:"used_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
}

// entrySize is the accounted size of one entry
func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}

// MemoryStore is an in-process Store, used by tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]string
	used     int64
	capacity int64
}

// NewMemoryStore creates an empty in-memory store. A capacity <= 0 means unlimited.
func NewMemoryStore(capacity int64) *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]string),
		capacity: capacity,
	}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used + entrySize(key, value)
	if old, ok := m.data[key]; ok {
		next -= entrySize(key, old)
	}
	if m.capacity > 0 && next > m.capacity {
		return ErrQuotaExceeded
	}

	m.data[key] = value
	m.used = next
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= entrySize(key, old)
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Usage() (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Usage{Keys: len(m.data), UsedBytes: m.used, CapacityBytes: m.capacity}, nil
}
