package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tapistry/sdk/clock"
)

// SQLiteStore is the durable local store. Expired rows are ignored on read
// and purged on open.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

func OpenSQLite(ctx context.Context, path string, c clock.Clock) (*SQLiteStore, error) {
	if c == nil {
		c = clock.Real()
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, clock: c}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS identity_kv(
	  key        TEXT PRIMARY KEY,
	  value      TEXT    NOT NULL,
	  expires_at INTEGER NOT NULL DEFAULT 0
	);`)
	if err != nil {
		return fmt.Errorf("create identity table: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM identity_kv WHERE expires_at > 0 AND expires_at <= ?`,
		s.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("purge identity rows: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM identity_kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expiresAt > 0 && s.clock.Now().UnixMilli() >= expiresAt {
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO identity_kv(key, value, expires_at) VALUES(?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	return err
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identity_kv WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
