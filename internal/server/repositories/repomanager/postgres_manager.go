package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/migrations"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/audit"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/entitlements"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/resources"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

var gooseUpContext = goose.UpContext

type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager(db *sql.DB) (RepositoryManager, error) {
	return &PostgresRepositoryManager{}, nil
}

func (m *PostgresRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Ledger(db dbx.DBTX) ledger.Repository {
	return ledger.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Entitlements(db dbx.DBTX) entitlements.Repository {
	return entitlements.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Resources(db dbx.DBTX) resources.Repository {
	return resources.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}
