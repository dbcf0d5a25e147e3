package models

import "time"

type EntryType string

const (
	EntryTypeDeposit      EntryType = "deposit"
	EntryTypePurchase     EntryType = "purchase"
	EntryTypeRefund       EntryType = "refund"
	EntryTypeAdjustment   EntryType = "adjustment"
	EntryTypeFee          EntryType = "fee"
	EntryTypeSubscription EntryType = "subscription"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeDeposit, EntryTypePurchase, EntryTypeRefund,
		EntryTypeAdjustment, EntryTypeFee, EntryTypeSubscription:
		return true
	}
	return false
}

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusApproved  EntryStatus = "approved"
	StatusRejected  EntryStatus = "rejected"
	StatusFailed    EntryStatus = "failed"
	StatusCancelled EntryStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s EntryStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// LedgerEntry is one append-only monetary movement. Amount is signed:
// negative debits, positive credits.
type LedgerEntry struct {
	ID             string
	AccountID      string
	Amount         int64
	Currency       string
	Type           EntryType
	Status         EntryStatus
	IdempotencyKey string
	Metadata       Metadata
	ProcessedBy    string
	ProcessedAt    *time.Time
	AdminNote      string
	CreatedAt      time.Time
}

// TerminalFields are written together with the pending -> terminal
// transition.
type TerminalFields struct {
	ProcessedBy string
	ProcessedAt time.Time
	AdminNote   string
}
