package repository

import (
	"context"

	"github.com/tradespot/deposit-service/internal/models"
)

type TransactionRepository interface {
	GetByID(ctx context.Context, id int32) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID int32, txType models.TransactionType, limit int) ([]models.Transaction, error)
}
