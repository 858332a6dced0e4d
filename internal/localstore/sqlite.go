package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage persists items in a single-table SQLite database.
type SQLiteStorage struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// DefaultPath returns ~/.ledgersync/cache.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ledgersync", "cache.db"), nil
}

// OpenSQLite opens (creating if needed) the cache database at path and
// applies migrations. An empty path uses DefaultPath.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("could not create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open cache: %w", err)
	}
	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not ping cache: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}
	return &SQLiteStorage{path: path, db: db}, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string { return s.path }

func (s *SQLiteStorage) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("localstore: cache is closed")
	}
	return s.db, nil
}

func (s *SQLiteStorage) GetItem(key string) (string, bool, error) {
	db, err := s.conn()
	if err != nil {
		return "", false, err
	}
	var v string
	err = db.QueryRow(`SELECT value FROM items WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteStorage) SetItem(key, value string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO items (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		if strings.Contains(err.Error(), "database or disk is full") {
			return fmt.Errorf("set %s: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) RemoveItem(key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM items WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) Keys(prefix string) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT key FROM items WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Close closes the database. Further calls fail.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("could not close cache: %w", err)
	}
	return nil
}

// applyMigrations applies schema migrations in order.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("could not create migrations table: %w", err)
	}

	migrations := []struct {
		version int
		name    string
		sql     string
	}{
		{1, "create_items_table", `
			CREATE TABLE IF NOT EXISTS items (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`},
	}

	for _, m := range migrations {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM migrations WHERE version = ?`, m.version).Scan(&n); err != nil {
			return fmt.Errorf("could not check migration %d: %w", m.version, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("could not apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := db.Exec(`INSERT INTO migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			return fmt.Errorf("could not record migration %d: %w", m.version, err)
		}
	}
	return nil
}
