package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a ledger row. Deposits reference the session and the
// external transfer that produced them.
type Transaction struct {
	ID           int32           `json:"id"`
	UserID       int32           `json:"user_id"`
	SessionID    string          `json:"session_id,omitempty"`
	ExternalTxID string          `json:"external_tx_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Type         TransactionType `json:"type"`
	Status       StatusType      `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

type TransactionType string

const (
	TypeDeposit  TransactionType = "deposit"
	TypeWithdraw TransactionType = "withdraw"
)

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusCompleted StatusType = "completed"
	StatusFailed    StatusType = "failed"
)
