package entitlements

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	// Create fails with common.ErrDuplicateKey when the account already holds
	// an approved entitlement for the resource.
	Create(ctx context.Context, e *models.Entitlement) error
	Exists(ctx context.Context, accountID, resourceID string) (bool, error)
	ListResourceIDs(ctx context.Context, accountID string) ([]string, error)
}
