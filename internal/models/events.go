package models

import "time"

const (
	TopicDeposits = "deposits"

	EventDepositCredited = "deposit_credited"
)

type DepositCreditedEvent struct {
	EventType    string    `json:"event_type"`
	UserID       int32     `json:"user_id"`
	SessionID    string    `json:"session_id"`
	ExternalTxID string    `json:"external_tx_id"`
	Amount       string    `json:"amount"`
	CreditedAt   time.Time `json:"credited_at"`
}
