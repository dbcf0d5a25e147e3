// Package entitlements stores which resources an account has paid for.
package entitlements

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.Entitlement) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = models.EntitlementApproved
	}

	query := `
		INSERT INTO entitlements (id, account_id, resource_id, entry_id, amount_paid, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	var entryID any
	if e.EntryID != "" {
		entryID = e.EntryID
	}

	err := r.db.QueryRowContext(ctx, query, e.ID, e.AccountID, e.ResourceID, entryID, e.AmountPaid, string(e.Status)).
		Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return nil
}

func (r *PostgresRepository) Exists(ctx context.Context, accountID, resourceID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM entitlements
			 WHERE account_id = $1 AND resource_id = $2 AND status = 'approved'
		)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, accountID, resourceID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return ok, nil
}

func (r *PostgresRepository) ListResourceIDs(ctx context.Context, accountID string) ([]string, error) {
	query := `
		SELECT resource_id FROM entitlements
		 WHERE account_id = $1 AND status = 'approved'
		 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
