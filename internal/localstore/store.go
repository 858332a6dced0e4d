package localstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.klb.dev/ledgersync/internal/debounce"
)

const (
	// DefaultPrefix namespaces month entries.
	DefaultPrefix = "ledger.v1.data."

	// SyncIDKey holds the user's Sync ID, not scoped by month.
	SyncIDKey = "ledger.v1.syncId"

	// DefaultDebounce is the trailing write window for SaveLocalDebounced.
	DefaultDebounce = 300 * time.Millisecond
)

// Options configures a Store. Zero fields take defaults.
type Options struct {
	Prefix   string
	Debounce time.Duration
}

// Store is the month cache over a Storage backend.
type Store struct {
	storage Storage
	prefix  string
	writes  *debounce.Debouncer
}

// New returns a Store over storage.
func New(storage Storage, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Store{
		storage: storage,
		prefix:  opts.Prefix,
		writes:  debounce.New(opts.Debounce),
	}
}

// MonthKey returns the storage key for month.
func (s *Store) MonthKey(month string) string {
	return s.prefix + month
}

// LoadLocal returns the cached payload for month, or nil if there is none or
// it cannot be read back as JSON.
func (s *Store) LoadLocal(month string) json.RawMessage {
	raw, ok, err := s.storage.GetItem(s.MonthKey(month))
	if err != nil {
		slog.Warn("local cache read failed", "month", month, "err", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	b := bytes.TrimSpace([]byte(raw))
	if !json.Valid(b) {
		slog.Warn("local cache entry is not JSON, ignoring", "month", month)
		return nil
	}
	return json.RawMessage(b)
}

// SaveLocalDebounced schedules payload to be written for month. Calls for the
// same month inside the debounce window collapse into one write of the last
// payload. Failures are logged and dropped.
func (s *Store) SaveLocalDebounced(month string, payload any) {
	if !s.writes.Schedule(month, func() {
		if err := s.SaveLocal(month, payload); err != nil {
			slog.Warn("local cache write dropped", "month", month, "err", err)
		}
	}) {
		slog.Debug("local cache closed, write dropped", "month", month)
	}
}

// SaveLocal writes payload for month immediately.
func (s *Store) SaveLocal(month string, payload any) error {
	var text string
	switch v := payload.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return fmt.Errorf("encode %s: invalid JSON", month)
		}
		text = string(v)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", month, err)
		}
		text = string(b)
	}
	if err := s.storage.SetItem(s.MonthKey(month), text); err != nil {
		return fmt.Errorf("store %s: %w", month, err)
	}
	slog.Debug("local cache written", "month", month, "bytes", len(text))
	return nil
}

// RemoveLocal deletes the cached payload for month and drops any pending write.
func (s *Store) RemoveLocal(month string) error {
	s.writes.Cancel(month)
	return s.storage.RemoveItem(s.MonthKey(month))
}

// Months returns the cached month keys in ascending order.
func (s *Store) Months() ([]string, error) {
	keys, err := s.storage.Keys(s.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	return out, nil
}

// GetSyncID returns the stored Sync ID, or "" if none is set.
func (s *Store) GetSyncID() string {
	v, ok, err := s.storage.GetItem(SyncIDKey)
	if err != nil || !ok {
		return ""
	}
	return v
}

// SetSyncID stores id; an empty id removes the stored value.
func (s *Store) SetSyncID(id string) {
	var err error
	if id == "" {
		err = s.storage.RemoveItem(SyncIDKey)
	} else {
		err = s.storage.SetItem(SyncIDKey, id)
	}
	if err != nil {
		slog.Warn("sync id not persisted", "err", err)
	}
}

// Pending reports whether month has a debounced write waiting.
func (s *Store) Pending(month string) bool {
	return s.writes.Pending(month)
}

// Flush performs all pending writes now.
func (s *Store) Flush() {
	s.writes.Flush()
}

// Close flushes pending writes and stops accepting new ones. It does not
// close the Storage.
func (s *Store) Close() {
	s.writes.Stop()
}
