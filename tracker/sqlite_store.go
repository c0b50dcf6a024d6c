package tracker

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
)`

// SQLiteStore is a durable Store backed by a SQLite file. Entries survive
// process restarts, which is what the consent decision needs.
type SQLiteStore struct {
	db  *sql.DB
	now Clock
}

// OpenSQLiteStore opens (or creates) the store at path. A nil clock uses
// time.Now.
func OpenSQLiteStore(path string, now Clock) (*SQLiteStore, error) {
	if now == nil {
		now = time.Now
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", url.PathEscape(path))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open consent store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping consent store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate consent store: %w", err)
	}

	return &SQLiteStore{db: db, now: now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var (
		value     string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrStorageUnavailable, key, err)
	}

	if expiresAt.Valid && s.now().UnixMilli() >= expiresAt.Int64 {
		if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
			return "", false, fmt.Errorf("%w: expire %s: %v", ErrStorageUnavailable, key, err)
		}
		return "", false, nil
	}

	return value, true, nil
}

func (s *SQLiteStore) Set(key, value string, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStorageUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrStorageUnavailable, k, err)
		}
	}
	return nil
}
