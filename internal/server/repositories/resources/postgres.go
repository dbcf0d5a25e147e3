// Package resources stores priced items: videos, photos and profiles.
package resources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Resource, error) {
	query := `SELECT id, owner_id, kind, title, price, is_paid, created_at FROM resources WHERE id = $1`

	res := &models.Resource{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&res.ID, &res.OwnerID, &res.Kind, &res.Title, &res.Price, &res.IsPaid, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return res, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, res *models.Resource) error {
	if !res.Kind.Valid() {
		return fmt.Errorf("invalid resource kind %q", res.Kind)
	}
	if res.Price < 0 {
		return common.ErrInvalidAmount
	}

	query := `
		INSERT INTO resources (id, owner_id, kind, title, price, is_paid)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			kind = EXCLUDED.kind,
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			is_paid = EXCLUDED.is_paid
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query, res.ID, res.OwnerID, string(res.Kind), res.Title, res.Price, res.IsPaid).
		Scan(&res.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return nil
}
