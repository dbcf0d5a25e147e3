package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
)

type AccountService struct {
	base
}

func NewAccountService(d Deps) *AccountService {
	return &AccountService{base: newBase(d, "accounts")}
}

// OpenAccount creates the account with a zero balance on first use and
// returns it. created reports whether this call made it.
func (s *AccountService) OpenAccount(ctx context.Context, accountID string) (acc *models.Account, created bool, err error) {
	repo := s.repomanager.Accounts(s.db)

	created, err = repo.Create(ctx, accountID)
	if err != nil {
		return nil, false, fmt.Errorf("error opening account: %w", err)
	}
	acc, err = repo.Get(ctx, accountID)
	if err != nil {
		return nil, false, fmt.Errorf("error opening account: %w", err)
	}
	if created {
		s.log.Info(ctx, "account opened", "account_id", accountID)
	}
	return acc, created, nil
}

func (s *AccountService) GetBalance(ctx context.Context, accountID string) (*models.Account, error) {
	acc, err := s.repomanager.Accounts(s.db).Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("error reading balance: %w", err)
	}
	return acc, nil
}

func (s *AccountService) ListUnlocked(ctx context.Context, accountID string) ([]string, error) {
	ids, err := s.repomanager.Entitlements(s.db).ListResourceIDs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("error listing entitlements: %w", err)
	}
	return ids, nil
}

// CheckAccess reports whether the account may view the resource: it is
// free, owned by the account, or unlocked.
func (s *AccountService) CheckAccess(ctx context.Context, accountID, resourceID string) (bool, error) {
	res, err := s.repomanager.Resources(s.db).Get(ctx, resourceID)
	if err != nil {
		return false, fmt.Errorf("error checking access: %w", err)
	}
	if res.Free() || res.OwnerID == accountID {
		return true, nil
	}
	ok, err := s.repomanager.Entitlements(s.db).Exists(ctx, accountID, resourceID)
	if err != nil {
		return false, fmt.Errorf("error checking access: %w", err)
	}
	return ok, nil
}

// SetBanned bans or unbans an account and records who did it.
func (s *AccountService) SetBanned(ctx context.Context, actorID, accountID string, banned bool) error {
	var balance int64
	err := s.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		acc, err := repo.GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		balance = acc.Balance
		return repo.SetBanned(ctx, accountID, banned)
	})
	if err != nil {
		return fmt.Errorf("error updating account: %w", err)
	}

	action := models.AuditAccountUnbanned
	if banned {
		action = models.AuditAccountBanned
	}
	s.log.Info(ctx, "account ban changed", "account_id", accountID, "banned", banned, "actor", actorID)
	s.appendAudit(ctx, &models.AuditRecord{
		ActorID:       actorID,
		Action:        action,
		TargetType:    "account",
		TargetID:      accountID,
		AccountID:     accountID,
		BalanceBefore: balance,
		BalanceAfter:  balance,
	})
	return nil
}
