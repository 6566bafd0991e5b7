package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/shopspring/decimal"
	"github.com/tradespot/deposit-service/internal/infrastructure/auth"
	"github.com/tradespot/deposit-service/internal/infrastructure/kafka"
	"github.com/tradespot/deposit-service/internal/infrastructure/redis"
	"github.com/tradespot/deposit-service/internal/models"
	"github.com/tradespot/deposit-service/internal/repository"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTTL   = time.Hour
	balanceTTL = 30 * time.Second
)

type AccountService interface {
	Register(ctx context.Context, username, password string) (int32, error)
	Login(ctx context.Context, username, password string) (string, error)
	GetBalance(ctx context.Context, userID int32) (decimal.Decimal, error)
	GetDepositHistory(ctx context.Context, userID int32) ([]models.Transaction, error)
	GetTransaction(ctx context.Context, userID, transactionID int32) (*models.Transaction, error)
}

type accountService struct {
	userRepo        repository.UserRepository
	transactionRepo repository.TransactionRepository
	redisClient     redis.RedisClient
	jwtSecret       string
}

func NewAccountService(
	userRepo repository.UserRepository,
	transactionRepo repository.TransactionRepository,
	redisClient redis.RedisClient,
	jwtSecret string,
) *accountService {
	return &accountService{
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		redisClient:     redisClient,
		jwtSecret:       jwtSecret,
	}
}

func (s *accountService) Register(ctx context.Context, username, password string) (int32, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if username == "" || password == "" {
		span.SetStatus(codes.Error, "empty username or password")
		return 0, pkgerrors.ErrInvalidInput
	}

	existingUser, err := s.userRepo.GetByUsername(ctx, username)
	if existingUser != nil {
		span.SetStatus(codes.Error, "username already exists")
		slog.Warn("username already exists",
			"username", username,
			"existing_id", existingUser.ID)
		return 0, pkgerrors.ErrUsernameExists
	}
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user check failed")
		slog.Error("failed to check user existence",
			"username", username,
			"error", err)
		return 0, fmt.Errorf("%w: failed to check user existence", pkgerrors.ErrInternal)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password",
			"username", username,
			"error", err)
		return 0, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		slog.Error("failed to create user in DB",
			"username", username,
			"error", err)
		return 0, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}

	slog.Info("user registered successfully",
		"user_id", user.ID,
		"username", username)
	return user.ID, nil
}

func (s *accountService) Login(ctx context.Context, username, password string) (string, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		slog.Error("failed to login", "username", username, "error", err)
		return "", pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Error("invalid password", "username", username)
		return "", pkgerrors.ErrInvalidCredentials
	}

	tokenString, err := auth.GenerateJWT(user.ID, s.jwtSecret, tokenTTL)
	if err != nil {
		slog.Error("failed to generate JWT", "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	// The auth middleware rejects tokens missing from Redis.
	if err := s.redisClient.Set(ctx, auth.TokenKey(user.ID), tokenString, tokenTTL); err != nil {
		slog.Error("failed to cache JWT", "user_id", user.ID, "error", err)
		return "", fmt.Errorf("%w: failed to store token", pkgerrors.ErrInternal)
	}

	slog.Info("user logged in", "username", username, "user_id", user.ID)
	return tokenString, nil
}

func (s *accountService) GetBalance(ctx context.Context, userID int32) (decimal.Decimal, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer span.End()

	balanceKey := kafka.BalanceKey(userID)
	if cached, err := s.redisClient.Get(ctx, balanceKey); err == nil {
		balance, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			slog.Debug("balance fetched from Redis", "user_id", userID, "balance", cached)
			return balance, nil
		}
		slog.Error("failed to parse cached balance", "user_id", userID, "error", parseErr)
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Warn("failed to read cached balance", "user_id", userID, "error", err)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get balance from Postgres", "user_id", userID, "error", err)
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	if err := s.redisClient.Set(ctx, balanceKey, user.Balance.String(), balanceTTL); err != nil {
		slog.Error("failed to cache balance", "user_id", userID, "error", err)
	}

	slog.Info("balance fetched from Postgres", "user_id", userID, "balance", user.Balance.String())
	return user.Balance, nil
}

func (s *accountService) GetDepositHistory(ctx context.Context, userID int32) ([]models.Transaction, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "GetDepositHistory")
	defer span.End()

	transactions, err := s.transactionRepo.ListByUser(ctx, userID, models.TypeDeposit, 50)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get deposit history", "user_id", userID, "error", err)
		return nil, err
	}

	slog.Info("deposit history retrieved", "user_id", userID, "count", len(transactions))
	return transactions, nil
}

// GetTransaction returns one ledger entry owned by userID. Entries of other
// users are reported as not found.
func (s *accountService) GetTransaction(ctx context.Context, userID, transactionID int32) (*models.Transaction, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "GetTransaction")
	defer span.End()
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.Int("transaction_id", int(transactionID)))

	tx, err := s.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if tx.UserID != userID {
		slog.Warn("transaction requested by another user", "user_id", userID, "transaction_id", transactionID)
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return tx, nil
}
