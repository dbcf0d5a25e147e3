package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/callback"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/notify"
)

type tokenVerifier interface {
	Verify(token, depositID string, action callback.Action) error
}

// evidenceLinker turns a stored evidence key into a link admins can open.
type evidenceLinker interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// ProviderManual marks deposits backed by an uploaded receipt rather than a
// payment provider webhook.
const ProviderManual = "manual"

type CreateDepositRequest struct {
	AccountID         string
	Amount            int64
	Currency          string
	EvidenceRef       string
	IdempotencyKey    string
	Provider          string
	ExternalPaymentID string
}

type DepositResult struct {
	Entry    *models.LedgerEntry
	Replayed bool
}

// DecisionResult is returned by approve and reject. A replayed decision
// carries the entry as it was settled the first time.
type DecisionResult struct {
	Entry         *models.LedgerEntry
	BalanceBefore int64
	BalanceAfter  int64
	Replayed      bool
}

type DepositService struct {
	base
	tokens   tokenVerifier
	evidence evidenceLinker
	currency string
}

func NewDepositService(d Deps, tokens tokenVerifier, evidence evidenceLinker, currency string) *DepositService {
	return &DepositService{base: newBase(d, "deposit"), tokens: tokens, evidence: evidence, currency: currency}
}

// CreateDeposit records a pending deposit. When an idempotency key is given
// and already used, the existing entry is returned with Replayed set.
// Manual deposits must reference evidence uploaded under the account's own
// key prefix.
func (s *DepositService) CreateDeposit(ctx context.Context, req CreateDepositRequest) (*DepositResult, error) {
	if req.Amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if req.Provider == ProviderManual && !strings.HasPrefix(req.EvidenceRef, evidencePrefix(req.AccountID)) {
		return nil, common.ErrInvalidEvidence
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}

	entry := &models.LedgerEntry{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Type:           models.EntryTypeDeposit,
		IdempotencyKey: req.IdempotencyKey,
		Metadata: models.NewDepositMetadata(models.DepositMetadata{
			EvidenceRef:       req.EvidenceRef,
			Provider:          req.Provider,
			ExternalPaymentID: req.ExternalPaymentID,
		}),
	}

	err := s.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		acc, err := s.repomanager.Accounts(tx).Get(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if acc.Banned {
			return common.ErrAccountBanned
		}
		entry.ID = ""
		_, err = s.repomanager.Ledger(tx).CreatePending(ctx, entry)
		return err
	})

	if errors.Is(err, common.ErrDuplicateKey) && req.IdempotencyKey != "" {
		existing, gerr := s.repomanager.Ledger(s.db).GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if gerr != nil {
			return nil, fmt.Errorf("error creating deposit: %w", gerr)
		}
		if existing.AccountID != req.AccountID || existing.Type != models.EntryTypeDeposit {
			return nil, fmt.Errorf("error creating deposit: %w", common.ErrDuplicateKey)
		}
		s.metrics.ObserveDeposit("replayed", 0)
		return &DepositResult{Entry: existing, Replayed: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error creating deposit: %w", err)
	}

	s.metrics.ObserveDeposit("created", 0)
	s.log.Info(ctx, "deposit created", "deposit_id", entry.ID, "account_id", entry.AccountID, "amount", entry.Amount)

	ev := s.event(notify.KindDepositCreated, entry)
	if req.EvidenceRef != "" && s.evidence != nil {
		if url, err := s.evidence.PresignDownload(ctx, req.EvidenceRef); err == nil {
			ev.EvidenceURL = url
		} else {
			s.log.Warn(ctx, "evidence link unavailable", "deposit_id", entry.ID, "error", err)
		}
	}
	s.notifier.Notify(ctx, ev)

	return &DepositResult{Entry: entry}, nil
}

// ApproveDeposit credits the deposit amount exactly once.
func (s *DepositService) ApproveDeposit(ctx context.Context, depositID, adminID, token string) (*DecisionResult, error) {
	return s.decide(ctx, depositID, adminID, "", token, callback.ActionApprove)
}

// RejectDeposit settles the deposit as rejected with reason; the balance is
// left untouched.
func (s *DepositService) RejectDeposit(ctx context.Context, depositID, adminID, reason, token string) (*DecisionResult, error) {
	return s.decide(ctx, depositID, adminID, reason, token, callback.ActionReject)
}

func (s *DepositService) decide(ctx context.Context, depositID, adminID, note, token string, action callback.Action) (*DecisionResult, error) {
	if err := s.tokens.Verify(token, depositID, action); err != nil {
		s.log.Warn(ctx, "invalid callback token", "deposit_id", depositID, "action", action, "admin", adminID)
		s.metrics.InvalidToken(string(action))
		return nil, common.ErrInvalidToken
	}

	target := models.StatusApproved
	if action == callback.ActionReject {
		target = models.StatusRejected
	}

	var result *DecisionResult
	err := s.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		ledger := s.repomanager.Ledger(tx)
		accounts := s.repomanager.Accounts(tx)

		entry, err := ledger.GetForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if entry.Type != models.EntryTypeDeposit {
			return common.ErrorNotFound
		}

		acc, err := accounts.GetForUpdate(ctx, entry.AccountID)
		if err != nil {
			return err
		}

		if entry.Status != models.StatusPending {
			if entry.Status == target {
				result = &DecisionResult{Entry: entry, BalanceBefore: acc.Balance, BalanceAfter: acc.Balance, Replayed: true}
				return nil
			}
			return &common.AlreadyTerminalError{Status: string(entry.Status)}
		}

		settled, err := ledger.TransitionToTerminal(ctx, depositID, target, models.TerminalFields{
			ProcessedBy: adminID,
			ProcessedAt: s.clock.Now(),
			AdminNote:   note,
		})
		if err != nil {
			return err
		}

		after := acc.Balance
		if target == models.StatusApproved {
			updated, err := accounts.ApplyDelta(ctx, acc.ID, entry.Amount, acc.Version)
			if err != nil {
				return err
			}
			after = updated.Balance
		}

		result = &DecisionResult{Entry: settled, BalanceBefore: acc.Balance, BalanceAfter: after}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error deciding deposit %s: %w", depositID, err)
	}

	if result.Replayed {
		s.metrics.ObserveDeposit("replayed", 0)
		s.log.Info(ctx, "deposit decision replayed", "deposit_id", depositID, "status", result.Entry.Status, "admin", adminID)
		return result, nil
	}

	auditAction, kind, credited := models.AuditDepositApproved, notify.KindDepositApproved, result.Entry.Amount
	if target == models.StatusRejected {
		auditAction, kind, credited = models.AuditDepositRejected, notify.KindDepositRejected, 0
	}

	s.metrics.ObserveDeposit(string(target), credited)
	s.log.Info(ctx, "deposit decided", "deposit_id", depositID, "status", target, "admin", adminID,
		"balance_before", result.BalanceBefore, "balance_after", result.BalanceAfter)

	s.appendAudit(ctx, &models.AuditRecord{
		ID:            depositID,
		ActorID:       adminID,
		Action:        auditAction,
		TargetType:    "ledger_entry",
		TargetID:      depositID,
		AccountID:     result.Entry.AccountID,
		BalanceBefore: result.BalanceBefore,
		BalanceAfter:  result.BalanceAfter,
		Note:          note,
	})

	ev := s.event(kind, result.Entry)
	ev.ActorID = adminID
	ev.Note = note
	ev.Balance = result.BalanceAfter
	s.notifier.Notify(ctx, ev)

	return result, nil
}

// ListPendingOlderThan reports deposits that have waited longer than age.
func (s *DepositService) ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.clock.Now().Add(-age)
	entries, err := s.repomanager.Ledger(s.db).ListPendingOlderThan(ctx, models.EntryTypeDeposit, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing pending deposits: %w", err)
	}
	return entries, nil
}

func (s *DepositService) event(kind notify.Kind, e *models.LedgerEntry) notify.Event {
	return notify.Event{
		Kind:       kind,
		EntryID:    e.ID,
		AccountID:  e.AccountID,
		Amount:     e.Amount,
		Currency:   e.Currency,
		Status:     string(e.Status),
		OccurredAt: s.clock.Now(),
	}
}
