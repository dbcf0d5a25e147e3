package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/notify"
	"github.com/google/uuid"
)

type PurchaseStatus string

const (
	PurchaseUnlocked        PurchaseStatus = "unlocked"
	PurchaseAlreadyUnlocked PurchaseStatus = "already_unlocked"
)

type PurchaseResult struct {
	Status        PurchaseStatus
	ResourceID    string
	Price         int64
	EntryID       string
	EntitlementID string
	Balance       int64
}

type PurchaseService struct {
	base
	currency string
}

func NewPurchaseService(d Deps, currency string) *PurchaseService {
	return &PurchaseService{base: newBase(d, "purchase"), currency: currency}
}

// Purchase unlocks resourceID for accountID. The debit, the entitlement and
// the purchase entry commit together or not at all. Repeating a purchase
// reports already_unlocked and never debits twice.
func (s *PurchaseService) Purchase(ctx context.Context, accountID, resourceID string) (*PurchaseResult, error) {
	var result *PurchaseResult

	err := s.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		accounts := s.repomanager.Accounts(tx)
		ledger := s.repomanager.Ledger(tx)
		entitlements := s.repomanager.Entitlements(tx)

		acc, err := accounts.GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if acc.Banned {
			return common.ErrAccountBanned
		}

		res, err := s.repomanager.Resources(tx).Get(ctx, resourceID)
		if err != nil {
			return err
		}

		result = &PurchaseResult{ResourceID: res.ID, Price: res.Price, Balance: acc.Balance}

		owned, err := entitlements.Exists(ctx, accountID, resourceID)
		if err != nil {
			return err
		}
		if owned || res.OwnerID == accountID {
			result.Status = PurchaseAlreadyUnlocked
			return nil
		}

		if res.Free() {
			result.Status = PurchaseUnlocked
			return nil
		}

		if available := acc.Available(); available < res.Price {
			return &common.InsufficientFundsError{Shortfall: res.Price - available}
		}

		updated, err := accounts.ApplyDelta(ctx, accountID, -res.Price, acc.Version)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		entry := &models.LedgerEntry{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Amount:    -res.Price,
			Currency:  s.currency,
			Type:      models.EntryTypePurchase,
			Status:    models.StatusApproved,
			Metadata: models.NewPurchaseMetadata(models.PurchaseMetadata{
				ResourceID:   res.ID,
				ResourceKind: res.Kind,
				OwnerID:      res.OwnerID,
				Price:        res.Price,
			}),
			ProcessedBy: "system",
			ProcessedAt: &now,
		}
		if err := ledger.Insert(ctx, entry); err != nil {
			return err
		}

		ent := &models.Entitlement{
			AccountID:  accountID,
			ResourceID: res.ID,
			EntryID:    entry.ID,
			AmountPaid: res.Price,
			Status:     models.EntitlementApproved,
		}
		if err := entitlements.Create(ctx, ent); err != nil {
			if errors.Is(err, common.ErrDuplicateKey) {
				// a concurrent purchase won; replay to report already_unlocked
				return common.ErrVersionConflict
			}
			return err
		}

		result.Status = PurchaseUnlocked
		result.EntryID = entry.ID
		result.EntitlementID = ent.ID
		result.Balance = updated.Balance
		return nil
	})
	if err != nil {
		s.metrics.ObservePurchase("failed", 0)
		return nil, fmt.Errorf("error purchasing resource: %w", err)
	}

	debited := int64(0)
	if result.EntryID != "" {
		debited = result.Price
	}
	s.metrics.ObservePurchase(string(result.Status), debited)

	if result.EntryID != "" {
		s.log.Info(ctx, "resource unlocked", "account_id", accountID, "resource_id", resourceID,
			"price", result.Price, "entry_id", result.EntryID)
		s.notifier.Notify(ctx, notify.Event{
			Kind:       notify.KindPurchaseCompleted,
			EntryID:    result.EntryID,
			AccountID:  accountID,
			Amount:     -result.Price,
			Currency:   s.currency,
			Status:     string(models.StatusApproved),
			ResourceID: resourceID,
			Balance:    result.Balance,
			OccurredAt: s.clock.Now(),
		})
	}
	return result, nil
}
