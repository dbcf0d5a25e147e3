// Package ledger provides the PostgreSQL-backed append-only ledger store.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements the ledger over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entryColumns = `id, account_id, amount, currency, type, status, idempotency_key, metadata,
	processed_by, processed_at, admin_note, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	var (
		key, processedBy, note sql.NullString
		processedAt            sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Currency, &e.Type, &e.Status, &key, &e.Metadata,
		&processedBy, &processedAt, &note, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.IdempotencyKey = key.String
	e.ProcessedBy = processedBy.String
	e.AdminNote = note.String
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.LedgerEntry) error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid entry type %q", e.Type)
	}
	if err := e.Metadata.Validate(e.Type); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Metadata.Kind == "" && (e.Metadata.Deposit != nil || e.Metadata.Purchase != nil || e.Metadata.Subscription != nil) {
		e.Metadata.Kind = e.Type
	}

	var processedAt any
	if e.ProcessedAt != nil {
		processedAt = *e.ProcessedAt
	}

	query := `
		INSERT INTO ledger_entries (id, account_id, amount, currency, type, status, idempotency_key, metadata,
			processed_by, processed_at, admin_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.AccountID, e.Amount, e.Currency, string(e.Type), string(e.Status), nullString(e.IdempotencyKey),
		e.Metadata, nullString(e.ProcessedBy), processedAt, nullString(e.AdminNote),
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return nil
}

func (r *PostgresRepository) CreatePending(ctx context.Context, e *models.LedgerEntry) (string, error) {
	e.Status = models.StatusPending
	e.ProcessedAt = nil
	e.ProcessedBy = ""
	if err := r.Insert(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE idempotency_key = $1`
	return r.getOne(ctx, query, key)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return e, nil
}

func (r *PostgresRepository) TransitionToTerminal(ctx context.Context, id string, status models.EntryStatus, f models.TerminalFields) (*models.LedgerEntry, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("status %q is not terminal", status)
	}

	query := `
		UPDATE ledger_entries
		   SET status = $2, processed_by = $3, processed_at = $4, admin_note = $5
		 WHERE id = $1 AND status = 'pending'
		RETURNING ` + entryColumns

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id, string(status), f.ProcessedBy, f.ProcessedAt, nullString(f.AdminNote)))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &common.AlreadyTerminalError{Status: string(current.Status)}
}

func (r *PostgresRepository) SumApproved(ctx context.Context, accountID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		  FROM ledger_entries
		 WHERE account_id = $1 AND status = 'approved'`

	var sum int64
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	return sum, nil
}

func (r *PostgresRepository) ListPendingOlderThan(ctx context.Context, t models.EntryType, cutoff time.Time, limit int) ([]*models.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		  FROM ledger_entries
		 WHERE status = 'pending' AND type = $1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, string(t), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	defer rows.Close()

	var result []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
