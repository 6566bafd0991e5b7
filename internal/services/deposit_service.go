package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradespot/deposit-service/internal/config"
	"github.com/tradespot/deposit-service/internal/matching"
	"github.com/tradespot/deposit-service/internal/models"
	"github.com/tradespot/deposit-service/internal/repository"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type DepositService interface {
	StartSession(ctx context.Context, userID int32, amount decimal.Decimal) (*models.DepositSession, error)
	GetSessionStatus(ctx context.Context, userID int32) (models.SessionStatus, error)
}

type depositService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	cfg         config.DepositConfig
	now         func() time.Time
	newID       func() string
}

func NewDepositService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	cfg config.DepositConfig,
) *depositService {
	return &depositService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		cfg:         cfg,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// StartSession returns the user's open session unchanged if there is one,
// otherwise opens a new one for amount. Concurrent calls for one user are
// serialized by the session store, so they all see the same session.
func (s *depositService) StartSession(ctx context.Context, userID int32, amount decimal.Decimal) (*models.DepositSession, error) {
	tracer := otel.Tracer("deposit-service")
	ctx, span := tracer.Start(ctx, "StartSession")
	defer span.End()
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.String("amount", amount.String()))

	if userID <= 0 {
		span.SetStatus(codes.Error, "not authenticated")
		return nil, pkgerrors.ErrNotAuthenticated
	}
	if !amount.IsPositive() || amount.LessThan(s.cfg.MinAmount) {
		slog.Warn("deposit amount below minimum", "user_id", userID, "amount", amount.String(), "min", s.cfg.MinAmount.String())
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	}

	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		span.RecordError(err)
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			span.SetStatus(codes.Error, "user not found")
			slog.Error("deposit requested for unknown user", "user_id", userID)
			return nil, pkgerrors.ErrNotAuthenticated
		}
		span.SetStatus(codes.Error, "user lookup failed")
		slog.Error("failed to load user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: failed to load user", pkgerrors.ErrInternal)
	}

	now := s.now().UTC()
	candidate := &models.DepositSession{
		ID:        s.newID(),
		UserID:    userID,
		Amount:    amount,
		Address:   s.cfg.Address,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Window),
	}

	session, created, err := s.sessionRepo.CreateIfNoneOpen(ctx, candidate, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session store failed")
		slog.Error("failed to start deposit session", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: failed to start deposit session", pkgerrors.ErrInternal)
	}

	span.SetAttributes(attribute.String("session_id", session.ID), attribute.Bool("created", created))
	if created {
		slog.Info("deposit session started", "user_id", userID, "session_id", session.ID, "amount", amount.String(), "expires_at", session.ExpiresAt)
	} else {
		slog.Info("deposit session reused", "user_id", userID, "session_id", session.ID, "requested_amount", amount.String(), "amount", session.Amount.String())
	}
	return session, nil
}

func (s *depositService) GetSessionStatus(ctx context.Context, userID int32) (models.SessionStatus, error) {
	tracer := otel.Tracer("deposit-service")
	ctx, span := tracer.Start(ctx, "GetSessionStatus")
	defer span.End()

	if userID <= 0 {
		span.SetStatus(codes.Error, "not authenticated")
		return "", pkgerrors.ErrNotAuthenticated
	}

	latest, err := s.sessionRepo.GetLatestByUser(ctx, userID)
	if err != nil && !stderrors.Is(err, pkgerrors.ErrSessionNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session lookup failed")
		slog.Error("failed to load deposit session", "user_id", userID, "error", err)
		return "", fmt.Errorf("%w: failed to load deposit session", pkgerrors.ErrInternal)
	}

	status := matching.Status(latest, s.now())
	span.SetAttributes(attribute.String("status", string(status)))
	return status, nil
}
