package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// SQLite stores regions in the workspace database. It does not own the connection.
type SQLite struct {
	DB     *sql.DB
	Now    func() time.Time
	closed atomic.Bool
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{DB: db, Now: time.Now}
}

func (s *SQLite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	var value []byte
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM regions WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read region %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO regions(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write region %s: %w", key, err)
	}
	return nil
}

// Close detaches the medium; the shared connection stays open.
func (s *SQLite) Close() error {
	s.closed.Store(true)
	return nil
}
