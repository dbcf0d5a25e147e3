// Package notify delivers ledger events to admins and downstream consumers
// after the financial change has committed. Delivery is at-least-once and
// best effort: a failed notification never touches the ledger.
package notify

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindDepositCreated    Kind = "deposit.created"
	KindDepositApproved   Kind = "deposit.approved"
	KindDepositRejected   Kind = "deposit.rejected"
	KindDepositStale      Kind = "deposit.stale"
	KindPurchaseCompleted Kind = "purchase.completed"
)

type Event struct {
	Kind       Kind      `json:"kind"`
	EntryID    string    `json:"entry_id"`
	AccountID  string    `json:"account_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	ResourceID string    `json:"resource_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	Balance    int64     `json:"balance_after,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`

	// EvidenceURL is a short-lived link for admins; it is not published to
	// the event stream.
	EvidenceURL string `json:"-"`
}

// FormatAmount renders minor units as a decimal string, e.g. 1050 USD -> "10.50 USD".
func FormatAmount(minor int64, currency string) string {
	s := decimal.New(minor, -2).StringFixed(2)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s account=%s amount=%s", e.Kind, e.EntryID, e.AccountID, FormatAmount(e.Amount, e.Currency))
}
