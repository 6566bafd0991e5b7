package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/tradespot/deposit-service/internal/models"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const uniqueViolation = "23505"

type PostgresCreditRepository struct {
	db *sql.DB
}

func NewPostgresCreditRepository(db *sql.DB) *PostgresCreditRepository {
	return &PostgresCreditRepository{db: db}
}

func (r *PostgresCreditRepository) ApplyCredit(ctx context.Context, session models.DepositSession, transfer models.ExternalTransfer, now time.Time) (err error) {
	ctx, span, done := instrument(ctx, "credit-repository", "ApplyCredit")
	defer func() {
		// A lost compare-and-set is not a repository failure.
		if stderrors.Is(err, pkgerrors.ErrAlreadyCredited) {
			done(nil)
			return
		}
		done(&err)
	}()
	span.SetAttributes(
		attribute.String("session_id", session.ID),
		attribute.Int("user_id", int(session.UserID)),
		attribute.String("external_tx_id", transfer.TransactionID),
		attribute.String("amount", session.Amount.String()),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "ApplyCredit", "error", err)
		return fmt.Errorf("%w: failed to begin transaction: %w", pkgerrors.ErrPersistence, err)
	}

	mark := `UPDATE deposit_sessions SET credited = TRUE, matched_transaction_id = $1, credited_at = $2 WHERE id = $3 AND credited = FALSE AND expires_at > $2`
	res, err := dbTx.ExecContext(ctx, mark, transfer.TransactionID, now, session.ID)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// The transfer already credited another session.
			discard(dbTx)
			return pkgerrors.ErrAlreadyCredited
		}
		err = rollback(dbTx, "ApplyCredit", err)
		return fmt.Errorf("%w: failed to mark session credited: %w", pkgerrors.ErrPersistence, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		err = rollback(dbTx, "ApplyCredit", err)
		return fmt.Errorf("%w: failed to read affected rows: %w", pkgerrors.ErrPersistence, err)
	}
	if affected == 0 {
		discard(dbTx)
		return pkgerrors.ErrAlreadyCredited
	}

	newBalance, err := incrementBalance(ctx, dbTx, session.UserID, models.BalanceUSDT, session.Amount)
	if err != nil {
		err = rollback(dbTx, "ApplyCredit", err)
		return fmt.Errorf("%w: failed to increment balance: %w", pkgerrors.ErrPersistence, err)
	}

	ledger := `INSERT INTO transactions (user_id, session_id, external_tx_id, amount, type, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var ledgerID int32
	err = dbTx.QueryRowContext(ctx, ledger, session.UserID, session.ID, transfer.TransactionID, session.Amount, models.TypeDeposit, models.StatusCompleted, now).Scan(&ledgerID)
	if err != nil {
		err = rollback(dbTx, "ApplyCredit", err)
		return fmt.Errorf("%w: failed to record ledger entry: %w", pkgerrors.ErrPersistence, err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "ApplyCredit", "error", err)
		return fmt.Errorf("%w: failed to commit transaction: %w", pkgerrors.ErrPersistence, err)
	}

	slog.Info("deposit credited",
		"method", "ApplyCredit",
		"session_id", session.ID,
		"user_id", session.UserID,
		"external_tx_id", transfer.TransactionID,
		"amount", session.Amount.String(),
		"new_balance", newBalance.String(),
		"ledger_id", ledgerID)
	return nil
}

// discard rolls back a transaction whose outcome is already decided.
func discard(dbTx *sql.Tx) {
	if err := dbTx.Rollback(); err != nil {
		slog.Error("rollback failed", "method", "ApplyCredit", "error", err)
	}
}
