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

const sessionColumns = `id, user_id, amount, address, created_at, expires_at, credited, matched_transaction_id`

type PostgresSessionRepository struct {
	db *sql.DB
}

func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.DepositSession, error) {
	var s models.DepositSession
	var matched sql.NullString
	if err := row.Scan(&s.ID, &s.UserID, &s.Amount, &s.Address, &s.CreatedAt, &s.ExpiresAt, &s.Credited, &matched); err != nil {
		return nil, err
	}
	s.MatchedTransactionID = matched.String
	return &s, nil
}

func (r *PostgresSessionRepository) CreateIfNoneOpen(ctx context.Context, session *models.DepositSession, now time.Time) (result *models.DepositSession, created bool, err error) {
	ctx, span, done := instrument(ctx, "session-repository", "CreateSessionIfNoneOpen")
	defer done(&err)

	if session == nil {
		return nil, false, pkgerrors.ErrNilSession
	}
	span.SetAttributes(attribute.Int("user_id", int(session.UserID)), attribute.String("session_id", session.ID))

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "CreateIfNoneOpen", "error", err)
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Serializes session creation per user for the rest of this transaction.
	if _, err = dbTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, session.UserID); err != nil {
		err = rollback(dbTx, "CreateIfNoneOpen", err)
		return nil, false, fmt.Errorf("failed to lock user sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM deposit_sessions WHERE user_id = $1 AND credited = FALSE AND expires_at > $2 ORDER BY created_at DESC LIMIT 1`
	existing, err := scanSession(dbTx.QueryRowContext(ctx, query, session.UserID, now))
	switch {
	case err == nil:
		if err = dbTx.Commit(); err != nil {
			slog.Error("failed to commit transaction", "method", "CreateIfNoneOpen", "error", err)
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		slog.Info("open deposit session reused", "method", "CreateIfNoneOpen", "user_id", existing.UserID, "session_id", existing.ID)
		return existing, false, nil
	case !stderrors.Is(err, sql.ErrNoRows):
		err = rollback(dbTx, "CreateIfNoneOpen", err)
		return nil, false, fmt.Errorf("failed to find open session: %w", err)
	}

	insert := `INSERT INTO deposit_sessions (id, user_id, amount, address, created_at, expires_at, credited) VALUES ($1, $2, $3, $4, $5, $6, FALSE)`
	if _, err = dbTx.ExecContext(ctx, insert, session.ID, session.UserID, session.Amount, session.Address, session.CreatedAt, session.ExpiresAt); err != nil {
		err = rollback(dbTx, "CreateIfNoneOpen", err)
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "CreateIfNoneOpen", "error", err)
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("deposit session created", "method", "CreateIfNoneOpen", "user_id", session.UserID, "session_id", session.ID, "amount", session.Amount.String(), "expires_at", session.ExpiresAt)
	return session, true, nil
}

func (r *PostgresSessionRepository) GetLatestByUser(ctx context.Context, userID int32) (session *models.DepositSession, err error) {
	ctx, span, done := instrument(ctx, "session-repository", "GetLatestSessionByUser")
	defer done(&err)
	span.SetAttributes(attribute.Int("user_id", int(userID)))

	query := `SELECT ` + sessionColumns + ` FROM deposit_sessions WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	session, err = scanSession(r.db.QueryRowContext(ctx, query, userID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("failed to get latest session", "method", "GetLatestByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}
	return session, nil
}

func (r *PostgresSessionRepository) ListOpen(ctx context.Context, now time.Time) (sessions []models.DepositSession, err error) {
	ctx, _, done := instrument(ctx, "session-repository", "ListOpenSessions")
	defer done(&err)

	query := `SELECT ` + sessionColumns + ` FROM deposit_sessions WHERE credited = FALSE AND expires_at > $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		slog.Error("failed to list open sessions", "method", "ListOpen", "error", err)
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, scanErr := scanSession(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan session: %w", scanErr)
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func (r *PostgresSessionRepository) FilterConsumed(ctx context.Context, transactionIDs []string) (consumed map[string]bool, err error) {
	ctx, span, done := instrument(ctx, "session-repository", "FilterConsumedTransfers")
	defer done(&err)
	span.SetAttributes(attribute.Int("transfers", len(transactionIDs)))

	consumed = make(map[string]bool)
	if len(transactionIDs) == 0 {
		return consumed, nil
	}

	query := `SELECT matched_transaction_id FROM deposit_sessions WHERE matched_transaction_id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(transactionIDs))
	if err != nil {
		slog.Error("failed to load consumed transfers", "method", "FilterConsumed", "error", err)
		return nil, fmt.Errorf("failed to load consumed transfers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transfer id: %w", err)
		}
		consumed[id] = true
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer ids: %w", err)
	}
	return consumed, nil
}

func (r *PostgresSessionRepository) FilterCredited(ctx context.Context, sessionIDs []string) (credited map[string]bool, err error) {
	ctx, span, done := instrument(ctx, "session-repository", "FilterCreditedSessions")
	defer done(&err)
	span.SetAttributes(attribute.Int("sessions", len(sessionIDs)))

	credited = make(map[string]bool)
	if len(sessionIDs) == 0 {
		return credited, nil
	}

	query := `SELECT id FROM deposit_sessions WHERE id = ANY($1) AND credited = TRUE`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(sessionIDs))
	if err != nil {
		slog.Error("failed to load credited sessions", "method", "FilterCredited", "error", err)
		return nil, fmt.Errorf("failed to load credited sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		credited[id] = true
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session ids: %w", err)
	}
	return credited, nil
}

func rollback(dbTx *sql.Tx, method string, cause error) error {
	if rbErr := dbTx.Rollback(); rbErr != nil {
		slog.Error("rollback failed", "method", method, "error", rbErr)
		return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, cause)
	}
	slog.Error("transaction rolled back", "method", method, "error", cause)
	return cause
}
