package documents

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Repository interface {
	Create(ctx context.Context, doc *models.Document) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	ListByRecord(ctx context.Context, recordID string) ([]*models.Document, error)
}
