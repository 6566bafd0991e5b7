package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/tradespot/deposit-service/internal/models"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) (err error) {
	ctx, _, done := instrument(ctx, "user-repository", "CreateUser")
	defer done(&err)

	if user == nil {
		return pkgerrors.ErrNilUser
	}
	if user.Username == "" || user.PasswordHash == "" {
		return fmt.Errorf("%w: username and password are required", pkgerrors.ErrInvalidInput)
	}

	query := `
	INSERT INTO users (username, password_hash)
	VALUES ($1, $2)
	RETURNING id, balance, spot_balance, created_at
	`
	err = r.db.QueryRowContext(ctx, query, user.Username, user.PasswordHash).
		Scan(&user.ID, &user.Balance, &user.SpotBalance, &user.CreatedAt)
	if err != nil {
		slog.Error("failed to create user", "method", "Create", "username", user.Username, "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("user created", "method", "Create", "user_id", user.ID)
	return nil
}

func (r *PostgresUserRepository) IncrementBalance(ctx context.Context, userID int32, field models.BalanceField, amount decimal.Decimal) (newBalance decimal.Decimal, err error) {
	ctx, span, done := instrument(ctx, "user-repository", "IncrementBalance")
	defer done(&err)
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.String("field", string(field)))

	return incrementBalance(ctx, r.db, userID, field, amount)
}

// incrementBalance is the only way balances change: a single UPDATE relative
// to the stored value, never a write of a previously read balance.
func incrementBalance(ctx context.Context, q queryRower, userID int32, field models.BalanceField, amount decimal.Decimal) (decimal.Decimal, error) {
	if !field.Valid() {
		return decimal.Zero, pkgerrors.ErrInvalidBalanceField
	}

	query := fmt.Sprintf(`UPDATE users SET %[1]s = %[1]s + $1 WHERE id = $2 RETURNING %[1]s`, field)
	var newBalance decimal.Decimal
	err := q.QueryRowContext(ctx, query, amount, userID).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to increment %s: %w", field, err)
	}
	return newBalance, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int32) (user *models.User, err error) {
	ctx, span, done := instrument(ctx, "user-repository", "GetUserByID")
	defer done(&err)
	span.SetAttributes(attribute.Int("user_id", int(id)))

	query := `SELECT id, username, balance, spot_balance, created_at FROM users WHERE id = $1`
	var u models.User
	err = r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.Balance, &u.SpotBalance, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		slog.Error("failed to get user by id", "method", "GetByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &u, nil
}

func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (user *models.User, err error) {
	ctx, _, done := instrument(ctx, "user-repository", "GetUserByUsername")
	defer done(&err)

	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", pkgerrors.ErrInvalidInput)
	}

	query := `SELECT id, username, password_hash, balance, spot_balance, created_at FROM users WHERE username = $1`

	var u models.User
	err = r.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.Balance,
		&u.SpotBalance,
		&u.CreatedAt,
	)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}

	return &u, nil
}
