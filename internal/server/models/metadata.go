package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMetadataMismatch = errors.New("metadata does not match entry type")

// Metadata is a tagged variant: Kind names the entry type and at most the
// matching payload is set. Extra is an open bag for forward-compatible
// fields.
type Metadata struct {
	Kind         EntryType             `json:"kind,omitempty"`
	Deposit      *DepositMetadata      `json:"deposit,omitempty"`
	Purchase     *PurchaseMetadata     `json:"purchase,omitempty"`
	Subscription *SubscriptionMetadata `json:"subscription,omitempty"`
	Extra        map[string]any        `json:"extra,omitempty"`
}

type DepositMetadata struct {
	EvidenceRef       string `json:"evidence_ref,omitempty"`
	Provider          string `json:"provider,omitempty"`
	ExternalPaymentID string `json:"external_payment_id,omitempty"`
}

type PurchaseMetadata struct {
	ResourceID   string       `json:"resource_id"`
	ResourceKind ResourceKind `json:"resource_kind"`
	OwnerID      string       `json:"owner_id"`
	Price        int64        `json:"price"`
}

type SubscriptionMetadata struct {
	CreatorID   string    `json:"creator_id"`
	PlanID      string    `json:"plan_id,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func NewDepositMetadata(d DepositMetadata) Metadata {
	return Metadata{Kind: EntryTypeDeposit, Deposit: &d}
}

func NewPurchaseMetadata(p PurchaseMetadata) Metadata {
	return Metadata{Kind: EntryTypePurchase, Purchase: &p}
}

func NewSubscriptionMetadata(s SubscriptionMetadata) Metadata {
	return Metadata{Kind: EntryTypeSubscription, Subscription: &s}
}

// Validate checks that the variant agrees with the entry type. Types
// without a dedicated payload may only carry Extra.
func (m Metadata) Validate(t EntryType) error {
	if m.Kind != "" && m.Kind != t {
		return fmt.Errorf("%w: kind %q for %q entry", ErrMetadataMismatch, m.Kind, t)
	}

	set := 0
	for _, ok := range []bool{m.Deposit != nil, m.Purchase != nil, m.Subscription != nil} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("%w: more than one payload", ErrMetadataMismatch)
	}

	switch {
	case m.Deposit != nil && t != EntryTypeDeposit,
		m.Purchase != nil && t != EntryTypePurchase,
		m.Subscription != nil && t != EntryTypeSubscription:
		return fmt.Errorf("%w: payload for %q entry", ErrMetadataMismatch, t)
	}
	return nil
}

// Value stores metadata as jsonb.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Metadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	*m = Metadata{}
	return json.Unmarshal(b, m)
}
