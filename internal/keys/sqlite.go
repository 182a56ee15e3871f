package keys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	_ "modernc.org/sqlite"
)

// DefaultSlot is the slot name the master key is kept under.
const DefaultSlot = "master_key"

// SQLiteStore keeps the slot in a local SQLite key-value table.
type SQLiteStore struct {
	db   *sql.DB
	slot string
}

// OpenSQLiteStore opens (or creates) the database at dsn and ensures the
// key_slots table exists.
func OpenSQLiteStore(ctx context.Context, dsn, slot string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite key store: %w", err)
	}
	s, err := NewSQLiteStore(ctx, db, slot)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore binds a store to an already opened database.
func NewSQLiteStore(ctx context.Context, db *sql.DB, slot string) (*SQLiteStore, error) {
	if slot == "" {
		slot = DefaultSlot
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS key_slots (
			name       TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return nil, fmt.Errorf("create key_slots table: %w", err)
	}
	return &SQLiteStore{db: db, slot: slot}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM key_slots WHERE name = ?`, s.slot).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrorNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key slot[%s]: %w", s.slot, err)
	}
	return value, nil
}

func (s *SQLiteStore) Save(ctx context.Context, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO key_slots (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, s.slot, value)
	if err != nil {
		return fmt.Errorf("failed to set key slot[%s]: %w", s.slot, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
