package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store is the on-disk cache backend: a single SQLite table mapping
// fingerprint to the JSON-encoded value.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the cache database in dataDir. Pass
// ":memory:" as dataDir for an in-memory database (used by tests).
func OpenStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "cache.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cache database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		fingerprint TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache_entries table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadAll reads every persisted entry into a map.
func (s *Store) LoadAll() (map[string][]byte, error) {
	rows, err := s.db.Query(`SELECT fingerprint, value FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("querying cache entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var fp string
		var value []byte
		if err := rows.Scan(&fp, &value); err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		entries[fp] = value
	}
	return entries, rows.Err()
}

// Put upserts one entry. Last write wins on fingerprint collisions, which
// is acceptable because values are pure functions of the fingerprint.
func (s *Store) Put(fingerprint string, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO cache_entries (fingerprint, value) VALUES (?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET value = excluded.value`,
		fingerprint, value)
	if err != nil {
		return fmt.Errorf("upserting cache entry: %w", err)
	}
	return nil
}

// DeleteAll removes every persisted entry.
func (s *Store) DeleteAll() error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clearing cache entries: %w", err)
	}
	return nil
}
