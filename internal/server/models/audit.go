package models

import "time"

type AuditAction string

const (
	AuditDepositApproved AuditAction = "deposit.approve"
	AuditDepositRejected AuditAction = "deposit.reject"
	AuditAccountBanned   AuditAction = "account.ban"
	AuditAccountUnbanned AuditAction = "account.unban"
)

// AuditRecord is an append-only trace of an administrative action.
type AuditRecord struct {
	ID            string
	ActorID       string
	Action        AuditAction
	TargetType    string
	TargetID      string
	AccountID     string
	BalanceBefore int64
	BalanceAfter  int64
	Note          string
	CreatedAt     time.Time
}
