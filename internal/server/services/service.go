// Package services contains the ledger business logic: purchases, the
// deposit approval workflow, account and resource queries, reconciliation
// and evidence storage. Every read-then-write runs in one database
// transaction obtained through dbx.WithTxRetry; notifications and audit
// records are emitted only after commit.
package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/paywall/internal/clock"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/metrics"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/notify"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	DB          *sql.DB
	RepoManager repomanager.RepositoryManager
	Log         logging.Logger
	Metrics     *metrics.Metrics
	Notifier    notify.Notifier
	Clock       clock.Clock
	Retry       dbx.RetryPolicy
	// AuditRetry bounds the post-commit audit append.
	AuditRetry dbx.RetryPolicy
}

type base struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	metrics     *metrics.Metrics
	notifier    notify.Notifier
	clock       clock.Clock
	retry       dbx.RetryPolicy
	auditRetry  dbx.RetryPolicy
}

func newBase(d Deps, module string) base {
	b := base{
		db:          d.DB,
		repomanager: d.RepoManager,
		log:         d.Log,
		metrics:     d.Metrics,
		notifier:    d.Notifier,
		clock:       d.Clock,
		retry:       d.Retry,
		auditRetry:  d.AuditRetry,
	}
	if b.log == nil {
		b.log = logging.Nop{}
	}
	b.log = b.log.With("module", module)
	if b.notifier == nil {
		b.notifier = notify.Func(func(context.Context, notify.Event) {})
	}
	if b.clock == nil {
		b.clock = clock.Real{}
	}
	if b.auditRetry.Retries == 0 {
		b.auditRetry = dbx.RetryPolicy{Retries: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	}

	onRetry := b.retry.OnRetry
	m := b.metrics
	b.retry.OnRetry = func(err error) {
		m.ConflictRetry()
		if onRetry != nil {
			onRetry(err)
		}
	}
	return b
}

// inTx runs fn in a read-committed transaction, replaying it on version
// conflicts.
func (b *base) inTx(ctx context.Context, fn dbx.TxFunc) error {
	return dbx.WithTxRetry(ctx, b.db, nil, b.retry, fn)
}

// appendAudit writes rec outside of any transaction. Failures are retried,
// then logged; they never propagate.
func (b *base) appendAudit(ctx context.Context, rec *models.AuditRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = b.clock.Now()
	}
	repo := b.repomanager.Audit(b.db)

	err := retry.Do(ctx, b.auditRetry.Backoff(), func(ctx context.Context) error {
		if err := repo.Append(ctx, rec); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		b.log.Error(ctx, "audit append failed", "action", rec.Action, "target_id", rec.TargetID,
			"actor", rec.ActorID, "error", err)
		b.metrics.AuditFailed()
	}
}
