// Package documents stores metadata of blobs attached to records. The blob
// bytes live in object storage.
package documents

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

func (r *PostgresRepository) Create(ctx context.Context, doc *models.Document) (*models.Document, error) {
	query := `
		INSERT INTO documents (id, record_id, owner_id, storage_key, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		doc.ID, doc.RecordID, doc.OwnerID, doc.StorageKey, doc.ContentType, doc.Size).Scan(&doc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return doc, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT id, record_id, owner_id, storage_key, content_type, size_bytes, created_at
		FROM documents WHERE id = $1`

	d := &models.Document{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.RecordID, &d.OwnerID, &d.StorageKey, &d.ContentType, &d.Size, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select document: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) ListByRecord(ctx context.Context, recordID string) ([]*models.Document, error) {
	query := `SELECT id, record_id, owner_id, storage_key, content_type, size_bytes, created_at
		FROM documents WHERE record_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []*models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.RecordID, &d.OwnerID, &d.StorageKey, &d.ContentType, &d.Size, &d.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}
