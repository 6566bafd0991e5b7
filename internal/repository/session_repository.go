package repository

import (
	"context"
	"time"

	"github.com/tradespot/deposit-service/internal/models"
)

type SessionRepository interface {
	// CreateIfNoneOpen inserts session unless the user already has a session
	// that is open at now, in which case the open one is returned and created is false.
	CreateIfNoneOpen(ctx context.Context, session *models.DepositSession, now time.Time) (result *models.DepositSession, created bool, err error)
	GetLatestByUser(ctx context.Context, userID int32) (*models.DepositSession, error)
	// ListOpen returns uncredited sessions expiring after now, oldest first.
	ListOpen(ctx context.Context, now time.Time) ([]models.DepositSession, error)
	// FilterConsumed reports which external transaction ids already credited a session.
	FilterConsumed(ctx context.Context, transactionIDs []string) (map[string]bool, error)
	// FilterCredited reports which of the given sessions are credited.
	FilterCredited(ctx context.Context, sessionIDs []string) (map[string]bool, error)
}

// CreditRepository commits a matched (session, transfer) pair.
type CreditRepository interface {
	// ApplyCredit marks the session credited and increments the owner's balance
	// in one database transaction. It returns ErrAlreadyCredited when the session
	// or the transfer was credited before, and ErrPersistence on any other failure.
	ApplyCredit(ctx context.Context, session models.DepositSession, transfer models.ExternalTransfer, now time.Time) error
}
