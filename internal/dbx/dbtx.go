// Package dbx provides tiny DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// helpers to run functions inside a transaction, and the mapping of
// Postgres failures onto the common error taxonomy.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/sethvargo/go-retry"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx DBTX) error

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return Classify(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = Classify(tx.Commit())
	}()

	err = fn(ctx, tx)
	return err
}

// RetryPolicy bounds how often a failed operation is re-run. Retries counts
// re-runs after the first try, so Retries: 2 means at most three calls. A
// zero policy selects DefaultRetryPolicy.
type RetryPolicy struct {
	Retries   uint64
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// OnRetry, when set, is called before each replay.
	OnRetry func(err error)
}

// DefaultRetryPolicy is used when a caller passes a zero policy.
var DefaultRetryPolicy = RetryPolicy{Retries: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 250 * time.Millisecond}

// Backoff returns jittered, capped exponential delays limited to p.Retries.
func (p RetryPolicy) Backoff() retry.Backoff {
	if p.Retries == 0 {
		p = RetryPolicy{Retries: DefaultRetryPolicy.Retries, BaseDelay: DefaultRetryPolicy.BaseDelay,
			MaxDelay: DefaultRetryPolicy.MaxDelay, OnRetry: p.OnRetry}
	}
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	return retry.WithMaxRetries(p.Retries, b)
}

// WithTxRetry runs fn through WithTx and replays the whole transaction when
// it fails with common.ErrVersionConflict. Once the policy is exhausted the
// conflict is reported as common.ErrStoreUnavailable so callers retry later.
func WithTxRetry(ctx context.Context, db *sql.DB, opts *sql.TxOptions, policy RetryPolicy, fn TxFunc) error {
	err := retry.Do(ctx, policy.Backoff(), func(ctx context.Context) error {
		err := WithTx(ctx, db, opts, fn)
		if errors.Is(err, common.ErrVersionConflict) {
			if policy.OnRetry != nil {
				policy.OnRetry(err)
			}
			return retry.RetryableError(err)
		}
		return err
	})

	if errors.Is(err, common.ErrVersionConflict) {
		return fmt.Errorf("%w: conflict retries exhausted: %w", common.ErrStoreUnavailable, err)
	}
	return err
}
