package records

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Repository interface {
	Create(ctx context.Context, rec *models.StoredRecord) error
	Update(ctx context.Context, rec *models.StoredRecord) error
	Get(ctx context.Context, id string) (*models.StoredRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.StoredRecord, error)
}
