package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/tradespot/deposit-service/internal/models"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `id, user_id, session_id, external_tx_id, amount, type, status, created_at`

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var sessionID, externalTxID sql.NullString
	if err := row.Scan(&tx.ID, &tx.UserID, &sessionID, &externalTxID, &tx.Amount, &tx.Type, &tx.Status, &tx.CreatedAt); err != nil {
		return nil, err
	}
	tx.SessionID = sessionID.String
	tx.ExternalTxID = externalTxID.String
	return &tx, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int32) (tx *models.Transaction, err error) {
	ctx, span, done := instrument(ctx, "transaction-repository", "GetTransactionByID")
	defer done(&err)
	span.SetAttributes(attribute.Int("transaction_id", int(id)))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err = scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Error("transaction not found", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}

	slog.Info("transaction retrieved", "method", "GetByID", "transaction_id", id, "user_id", tx.UserID, "type", tx.Type)
	return tx, nil
}

func (r *PostgresTransactionRepository) ListByUser(ctx context.Context, userID int32, txType models.TransactionType, limit int) (txs []models.Transaction, err error) {
	ctx, span, done := instrument(ctx, "transaction-repository", "ListTransactionsByUser")
	defer done(&err)
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.String("type", string(txType)))

	if txType != models.TypeDeposit && txType != models.TypeWithdraw {
		return nil, pkgerrors.ErrInvalidTransactionType
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 AND type = $2 ORDER BY created_at DESC LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, userID, txType, limit)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs = make([]models.Transaction, 0)
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan transaction: %w", scanErr)
			return nil, err
		}
		txs = append(txs, *tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	slog.Info("transactions listed", "method", "ListByUser", "user_id", userID, "count", len(txs))
	return txs, nil
}
