package ledger

import (
	"context"
	"time"

	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type Repository interface {
	// Insert appends an entry in whatever status it carries. A taken
	// idempotency key fails with common.ErrDuplicateKey.
	Insert(ctx context.Context, e *models.LedgerEntry) error
	CreatePending(ctx context.Context, e *models.LedgerEntry) (string, error)
	Get(ctx context.Context, id string) (*models.LedgerEntry, error)
	GetForUpdate(ctx context.Context, id string) (*models.LedgerEntry, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	// TransitionToTerminal moves a pending entry to status. Entries that are
	// already terminal yield *common.AlreadyTerminalError.
	TransitionToTerminal(ctx context.Context, id string, status models.EntryStatus, f models.TerminalFields) (*models.LedgerEntry, error)
	SumApproved(ctx context.Context, accountID string) (int64, error)
	ListPendingOlderThan(ctx context.Context, t models.EntryType, cutoff time.Time, limit int) ([]*models.LedgerEntry, error)
}
