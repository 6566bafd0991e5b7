package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositSession is a user's declared intent to deposit an exact amount to
// Address before ExpiresAt.
type DepositSession struct {
	ID                   string          `json:"session_id"`
	UserID               int32           `json:"user_id"`
	Amount               decimal.Decimal `json:"amount"`
	Address              string          `json:"address"`
	CreatedAt            time.Time       `json:"created_at"`
	ExpiresAt            time.Time       `json:"expires_at"`
	Credited             bool            `json:"credited"`
	MatchedTransactionID string          `json:"matched_transaction_id,omitempty"`
}

// Open reports whether the session can still be matched at now.
func (s DepositSession) Open(now time.Time) bool {
	return !s.Credited && now.Before(s.ExpiresAt)
}

// SessionStatus is derived from Credited and ExpiresAt, never stored.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionSuccess SessionStatus = "success"
	SessionFailed  SessionStatus = "failed"
)

type TransferStatus string

const (
	TransferSuccess TransferStatus = "success"
	TransferPending TransferStatus = "pending"
	TransferFailed  TransferStatus = "failed"
)

// ExternalTransfer is an incoming transfer reported by the exchange. It is
// fetched on every poll and never persisted.
type ExternalTransfer struct {
	TransactionID      string
	Amount             decimal.Decimal
	DestinationAddress string
	Status             TransferStatus
	ObservedAt         time.Time
}
