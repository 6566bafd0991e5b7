package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tradespot/deposit-service/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int32) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// IncrementBalance adds amount to field in a single UPDATE and returns the new value.
	// It is the entry point for other platform components that move funds;
	// deposit credits apply the same increment inside their own transaction.
	IncrementBalance(ctx context.Context, userID int32, field models.BalanceField, amount decimal.Decimal) (decimal.Decimal, error)
}
