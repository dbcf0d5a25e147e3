// Package common defines shared constants and sentinel errors used across
// the paywall server, its transports and the ops CLI. Callers should use
// errors.Is / errors.As to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound       = errors.New("not found")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrVersionConflict  = errors.New("version conflict")
	ErrStoreUnavailable = errors.New("store unavailable")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate limited")

	// Ledger errors.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyTerminal   = errors.New("already terminal")
	ErrAccountBanned     = errors.New("account banned")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidEvidence   = errors.New("invalid evidence reference")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// InsufficientFundsError reports how much the account is missing for a
// purchase. It matches ErrInsufficientFunds.
type InsufficientFundsError struct {
	Shortfall int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: shortfall %d", e.Shortfall)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// AlreadyTerminalError carries the status an entry already settled in.
// It matches ErrAlreadyTerminal.
type AlreadyTerminalError struct {
	Status string
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("already terminal: %s", e.Status)
}

func (e *AlreadyTerminalError) Is(target error) bool {
	return target == ErrAlreadyTerminal
}
