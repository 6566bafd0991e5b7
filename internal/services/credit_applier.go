package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/tradespot/deposit-service/internal/infrastructure/kafka"
	"github.com/tradespot/deposit-service/internal/infrastructure/observability"
	"github.com/tradespot/deposit-service/internal/matching"
	"github.com/tradespot/deposit-service/internal/models"
	"github.com/tradespot/deposit-service/internal/repository"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CreditApplier commits matched pairs and announces successful credits.
type CreditApplier struct {
	credits  repository.CreditRepository
	producer kafka.KafkaProducer
	now      func() time.Time
}

func NewCreditApplier(credits repository.CreditRepository, producer kafka.KafkaProducer) *CreditApplier {
	return &CreditApplier{credits: credits, producer: producer, now: time.Now}
}

// Apply credits pair.Session with pair.Transfer. It returns false with a nil
// error when the session or transfer had already been credited.
func (a *CreditApplier) Apply(ctx context.Context, pair matching.Pair) (bool, error) {
	tracer := otel.Tracer("deposit-service")
	ctx, span := tracer.Start(ctx, "ApplyMatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", pair.Session.ID),
		attribute.String("external_tx_id", pair.Transfer.TransactionID),
	)

	if pair.Session.Credited {
		observability.DepositCredits.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	logger := observability.WithContext(ctx,
		"session_id", pair.Session.ID,
		"user_id", pair.Session.UserID,
		"external_tx_id", pair.Transfer.TransactionID)

	creditedAt := a.now()
	err := a.credits.ApplyCredit(ctx, pair.Session, pair.Transfer, creditedAt)
	switch {
	case stderrors.Is(err, pkgerrors.ErrAlreadyCredited):
		observability.DepositCredits.WithLabelValues("duplicate").Inc()
		logger.Debug("deposit already credited, skipping")
		return false, nil
	case err != nil:
		observability.DepositCredits.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		logger.Error("failed to apply deposit credit", "error", err)
		return false, err
	}

	observability.DepositCredits.WithLabelValues("credited").Inc()
	logger.Info("deposit session credited", "amount", pair.Session.Amount.String())

	a.publish(ctx, pair, creditedAt)
	return true, nil
}

// publish is best effort: the credit is already committed.
func (a *CreditApplier) publish(ctx context.Context, pair matching.Pair, creditedAt time.Time) {
	if a.producer == nil {
		return
	}
	event := models.DepositCreditedEvent{
		EventType:    models.EventDepositCredited,
		UserID:       pair.Session.UserID,
		SessionID:    pair.Session.ID,
		ExternalTxID: pair.Transfer.TransactionID,
		Amount:       pair.Session.Amount.String(),
		CreditedAt:   creditedAt.UTC(),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal deposit event", "session_id", pair.Session.ID, "error", err)
		return
	}
	if err := a.producer.Send(ctx, models.TopicDeposits, int64(pair.Session.UserID), eventBytes); err != nil {
		slog.Error("failed to publish deposit event",
			"session_id", pair.Session.ID,
			"user_id", pair.Session.UserID,
			"error", fmt.Errorf("send %s: %w", models.TopicDeposits, err))
	}
}
