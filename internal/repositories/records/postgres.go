// Package records provides the Postgres-backed store for guarded records.
// Rows are opaque to it: payload and digest are produced by the record guard.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.StoredRecord) error {
	query := `
		INSERT INTO records (id, owner_id, payload, integrity_digest, last_modified)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.OwnerID, rec.Payload, rec.IntegrityDigest, rec.LastModified); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Update replaces payload and digest of an existing record owned by
// rec.OwnerID. ErrorNotFound is returned when no such row exists.
func (r *PostgresRepository) Update(ctx context.Context, rec *models.StoredRecord) error {
	query := `
		UPDATE records SET payload = $3, integrity_digest = $4, last_modified = $5
		WHERE id = $1 AND owner_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, rec.ID, rec.OwnerID, rec.Payload, rec.IntegrityDigest, rec.LastModified)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.StoredRecord, error) {
	query := `SELECT id, owner_id, payload, integrity_digest, last_modified FROM records WHERE id = $1`

	rec := &models.StoredRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.OwnerID, &rec.Payload, &rec.IntegrityDigest, &rec.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.StoredRecord, error) {
	query := `SELECT id, owner_id, payload, integrity_digest, last_modified FROM records
		WHERE owner_id = $1 ORDER BY last_modified DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.StoredRecord
	for rows.Next() {
		var item models.StoredRecord
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Payload, &item.IntegrityDigest, &item.LastModified); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
