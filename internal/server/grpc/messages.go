package grpc

import (
	"time"

	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/services"
	"github.com/dmitrijs2005/paywall/internal/timex"
)

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type OpenAccountRequest struct{}

type GetBalanceRequest struct{}

type AccountResponse struct {
	AccountID       string `json:"account_id"`
	Balance         int64  `json:"balance"`
	ReservedBalance int64  `json:"reserved_balance"`
	Available       int64  `json:"available"`
	Banned          bool   `json:"banned,omitempty"`
	Created         bool   `json:"created,omitempty"`
}

type ListUnlockedRequest struct{}

type ListUnlockedResponse struct {
	ResourceIDs []string `json:"resource_ids"`
}

type CheckAccessRequest struct {
	ResourceID string `json:"resource_id" validate:"required,max=128"`
}

type CheckAccessResponse struct {
	Allowed bool `json:"allowed"`
}

type PurchaseRequest struct {
	ResourceID string `json:"resource_id" validate:"required,max=128"`
}

type PurchaseResponse struct {
	Status        string `json:"status"`
	ResourceID    string `json:"resource_id"`
	Price         int64  `json:"price"`
	EntryID       string `json:"entry_id,omitempty"`
	EntitlementID string `json:"entitlement_id,omitempty"`
	Balance       int64  `json:"balance"`
}

type PresignEvidenceUploadRequest struct{}

type PresignEvidenceUploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type CreateDepositRequest struct {
	Amount         int64  `json:"amount" validate:"gt=0"`
	Currency       string `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	EvidenceRef    string `json:"evidence_ref" validate:"required,max=512"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type Entry struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	EvidenceRef string     `json:"evidence_ref,omitempty"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	AdminNote   string     `json:"admin_note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type DepositResponse struct {
	Entry    Entry `json:"entry"`
	Replayed bool  `json:"replayed,omitempty"`
}

type ApproveDepositRequest struct {
	DepositID string `json:"deposit_id" validate:"required,uuid"`
	Token     string `json:"token" validate:"required"`
}

type RejectDepositRequest struct {
	DepositID string `json:"deposit_id" validate:"required,uuid"`
	Token     string `json:"token" validate:"required"`
	Reason    string `json:"reason,omitempty" validate:"max=500"`
}

type DecisionResponse struct {
	Entry         Entry `json:"entry"`
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
	Replayed      bool  `json:"replayed,omitempty"`
}

type ListStaleDepositsRequest struct {
	OlderThan timex.Duration `json:"older_than"`
	Limit     int            `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

type ListStaleDepositsResponse struct {
	Entries []Entry `json:"entries"`
}

// ReconcileRequest checks one account, or every account when AccountID is
// empty.
type ReconcileRequest struct {
	AccountID string `json:"account_id,omitempty" validate:"max=128"`
}

type Reconciliation struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	LedgerSum int64  `json:"ledger_sum"`
	Drift     int64  `json:"drift"`
}

type ReconcileResponse struct {
	Results []Reconciliation `json:"results"`
}

func toAccount(a *models.Account, created bool) *AccountResponse {
	return &AccountResponse{
		AccountID:       a.ID,
		Balance:         a.Balance,
		ReservedBalance: a.ReservedBalance,
		Available:       a.Available(),
		Banned:          a.Banned,
		Created:         created,
	}
}

func toEntry(e *models.LedgerEntry) Entry {
	out := Entry{
		ID:          e.ID,
		AccountID:   e.AccountID,
		Amount:      e.Amount,
		Currency:    e.Currency,
		Type:        string(e.Type),
		Status:      string(e.Status),
		ProcessedBy: e.ProcessedBy,
		ProcessedAt: e.ProcessedAt,
		AdminNote:   e.AdminNote,
		CreatedAt:   e.CreatedAt,
	}
	if e.Metadata.Deposit != nil {
		out.EvidenceRef = e.Metadata.Deposit.EvidenceRef
	}
	return out
}

func toDecision(r *services.DecisionResult) *DecisionResponse {
	return &DecisionResponse{
		Entry:         toEntry(r.Entry),
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		Replayed:      r.Replayed,
	}
}

func toReconciliation(r services.Reconciliation) Reconciliation {
	return Reconciliation{AccountID: r.AccountID, Balance: r.Balance, LedgerSum: r.LedgerSum, Drift: r.Drift()}
}
