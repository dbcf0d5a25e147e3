package models

import "time"

type ResourceKind string

const (
	ResourceVideo   ResourceKind = "video"
	ResourcePhoto   ResourceKind = "photo"
	ResourceProfile ResourceKind = "profile"
)

func (k ResourceKind) Valid() bool {
	return k == ResourceVideo || k == ResourcePhoto || k == ResourceProfile
}

// Resource is a priced item that can be unlocked.
type Resource struct {
	ID        string
	OwnerID   string
	Kind      ResourceKind
	Title     string
	Price     int64
	IsPaid    bool
	CreatedAt time.Time
}

// Free resources need no entitlement to be accessed.
func (r *Resource) Free() bool {
	return !r.IsPaid || r.Price == 0
}

type EntitlementStatus string

const (
	EntitlementApproved EntitlementStatus = "approved"
	EntitlementRevoked  EntitlementStatus = "revoked"
)

// Entitlement records that an account paid for a resource.
type Entitlement struct {
	ID         string
	AccountID  string
	ResourceID string
	EntryID    string
	AmountPaid int64
	Status     EntitlementStatus
	CreatedAt  time.Time
}
