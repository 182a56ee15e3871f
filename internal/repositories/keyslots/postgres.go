// Package keyslots keeps named secret slots in Postgres. A PostgresStore is
// bound to one slot and satisfies keys.Store.
package keyslots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
)

type PostgresStore struct {
	db   dbx.DBTX
	slot string
}

func NewPostgresStore(db dbx.DBTX, slot string) *PostgresStore {
	return &PostgresStore{db: db, slot: slot}
}

func (s *PostgresStore) Load(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM key_slots WHERE name = $1`, s.slot).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("failed to get key slot[%s]: %w", s.slot, err)
	}
	return value, nil
}

func (s *PostgresStore) Save(ctx context.Context, value string) error {
	query := `
		INSERT INTO key_slots (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	if _, err := s.db.ExecContext(ctx, query, s.slot, value); err != nil {
		return fmt.Errorf("failed to set key slot[%s]: %w", s.slot, err)
	}
	return nil
}
