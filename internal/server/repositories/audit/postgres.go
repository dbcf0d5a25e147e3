// Package audit persists the append-only log of administrative actions.
package audit

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

// Append inserts rec. Its id doubles as a natural dedup key, so a retried
// append of the same record is a no-op.
func (r *PostgresRepository) Append(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO audit_log (id, actor_id, action, target_type, target_id, account_id,
			balance_before, balance_after, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.ActorID, string(rec.Action), rec.TargetType, rec.TargetID,
		rec.AccountID, rec.BalanceBefore, rec.BalanceAfter, rec.Note, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return nil
}

func (r *PostgresRepository) ListByTarget(ctx context.Context, targetType, targetID string) ([]*models.AuditRecord, error) {
	query := `
		SELECT id, actor_id, action, target_type, target_id, COALESCE(account_id, ''),
		       COALESCE(balance_before, 0), COALESCE(balance_after, 0), COALESCE(note, ''), created_at
		  FROM audit_log
		 WHERE target_type = $1 AND target_id = $2
		 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, targetType, targetID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	defer rows.Close()

	var out []*models.AuditRecord
	for rows.Next() {
		rec := &models.AuditRecord{}
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.TargetType, &rec.TargetID, &rec.AccountID,
			&rec.BalanceBefore, &rec.BalanceAfter, &rec.Note, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
