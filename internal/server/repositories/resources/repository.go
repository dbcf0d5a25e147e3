package resources

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.Resource, error)
	Upsert(ctx context.Context, r *models.Resource) error
}
