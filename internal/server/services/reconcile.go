package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/dbx"
)

// Reconciliation compares a stored balance with the sum of the account's
// approved ledger entries.
type Reconciliation struct {
	AccountID string
	Balance   int64
	LedgerSum int64
}

func (r Reconciliation) Drift() int64 { return r.Balance - r.LedgerSum }

func (r Reconciliation) OK() bool { return r.Drift() == 0 }

type ReconcileService struct {
	base
}

func NewReconcileService(d Deps) *ReconcileService {
	return &ReconcileService{base: newBase(d, "reconcile")}
}

var snapshotTx = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// Reconcile reads the balance and the ledger sum from one snapshot.
func (s *ReconcileService) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	var r *Reconciliation
	err := dbx.WithTx(ctx, s.db, snapshotTx, func(ctx context.Context, tx dbx.DBTX) error {
		acc, err := s.repomanager.Accounts(tx).Get(ctx, accountID)
		if err != nil {
			return err
		}
		sum, err := s.repomanager.Ledger(tx).SumApproved(ctx, accountID)
		if err != nil {
			return err
		}
		r = &Reconciliation{AccountID: accountID, Balance: acc.Balance, LedgerSum: sum}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error reconciling %s: %w", accountID, err)
	}
	if !r.OK() {
		s.log.Error(ctx, "balance drift", "account_id", accountID, "balance", r.Balance, "ledger_sum", r.LedgerSum)
	}
	return r, nil
}

// ReconcileAll checks every account and returns the mismatches.
func (s *ReconcileService) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	ids, err := s.repomanager.Accounts(s.db).ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing accounts: %w", err)
	}

	var mismatches []Reconciliation
	for _, id := range ids {
		r, err := s.Reconcile(ctx, id)
		if err != nil {
			return nil, err
		}
		if !r.OK() {
			mismatches = append(mismatches, *r)
		}
	}
	s.metrics.SetReconcileMismatches(len(mismatches))
	s.log.Info(ctx, "reconciliation finished", "accounts", len(ids), "mismatches", len(mismatches))
	return mismatches, nil
}
