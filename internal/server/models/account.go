// Package models holds the persisted domain types of the ledger: accounts,
// ledger entries with their metadata, entitlements, resources and audit
// records. Money is always int64 minor units.
package models

import "time"

type Account struct {
	ID              string
	Balance         int64
	ReservedBalance int64
	Banned          bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Available is the part of the balance that is not earmarked.
func (a *Account) Available() int64 {
	return a.Balance - a.ReservedBalance
}

func (a *Account) Deleted() bool {
	return a.DeletedAt != nil
}
