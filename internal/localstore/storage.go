// Package localstore is the always-on plaintext month cache.
//
// A Store keeps one JSON document per month under "{prefix}{month}" in a
// Storage backend, plus the user's Sync ID under a fixed key. Writes are
// debounced per month and are best-effort: a full or broken backend is logged
// and ignored, and an unreadable entry is treated as a cache miss.
package localstore

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrQuotaExceeded is returned by a Storage that has run out of room.
var ErrQuotaExceeded = errors.New("localstore: quota exceeded")

// Storage is a string key-value backend with the semantics of browser local
// storage. Implementations must be safe for concurrent use.
type Storage interface {
	// GetItem returns the value for key and whether it exists.
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	// Keys returns every key starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
}

// MemoryStorage is an in-process Storage. A positive Quota caps the total
// number of bytes held across keys and values.
type MemoryStorage struct {
	Quota int

	mu    sync.RWMutex
	items map[string]string
	size  int
}

// NewMemoryStorage returns an empty MemoryStorage with no quota.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (m *MemoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	size := m.size
	if old, ok := m.items[key]; ok {
		size -= len(key) + len(old)
	}
	size += len(key) + len(value)
	if m.Quota > 0 && size > m.Quota {
		return ErrQuotaExceeded
	}
	m.items[key] = value
	m.size = size
	return nil
}

func (m *MemoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.items[key]; ok {
		m.size -= len(key) + len(old)
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStorage) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
