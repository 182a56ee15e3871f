package users

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateRole(ctx context.Context, id, role string, customPermissions []string) error
	SetActive(ctx context.Context, id string, active bool) error
}
