package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/audit"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/entitlements"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/resources"
)

// RepositoryManager vends repositories bound to a connection or transaction,
// so a service can open one atomic scope and use several stores inside it.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Ledger(db dbx.DBTX) ledger.Repository
	Entitlements(db dbx.DBTX) entitlements.Repository
	Resources(db dbx.DBTX) resources.Repository
	Audit(db dbx.DBTX) audit.Repository
}
