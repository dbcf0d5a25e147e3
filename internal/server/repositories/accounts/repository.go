package accounts

import (
	"context"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	// Create inserts an empty account and reports whether it was new.
	Create(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*models.Account, error)
	// GetForUpdate locks the account row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Account, error)
	// ApplyDelta adds delta to the balance if the row still has
	// expectedVersion, returning the updated account.
	ApplyDelta(ctx context.Context, id string, delta int64, expectedVersion int64) (*models.Account, error)
	SetBanned(ctx context.Context, id string, banned bool) error
	ListIDs(ctx context.Context) ([]string, error)
}
