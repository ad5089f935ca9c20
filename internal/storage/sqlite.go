package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteStore is the profile-scoped slot store. Every slot is one row, so
// a write replaces the whole value atomically.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the profile database at path.
// WAL + busy timeout avoid "database is locked" under concurrent readers.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS slots(
	  key   TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create slots table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO slots(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write slot %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM slots WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete slot %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store already closed")
	}
	err := s.db.Close()
	s.db = nil
	return err
}
