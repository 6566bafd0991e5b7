package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tradespot/deposit-service/internal/matching"
	"github.com/tradespot/deposit-service/internal/models"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
)

func testPair() matching.Pair {
	return matching.Pair{
		Session: models.DepositSession{
			ID:        "s1",
			UserID:    7,
			Amount:    decimal.NewFromInt(25),
			Address:   testAddress,
			CreatedAt: testStart,
			ExpiresAt: testStart.Add(15 * time.Minute),
		},
		Transfer: models.ExternalTransfer{
			TransactionID:      "tx-1",
			Amount:             decimal.NewFromInt(25),
			DestinationAddress: testAddress,
			Status:             models.TransferSuccess,
			ObservedAt:         testStart.Add(time.Minute),
		},
	}
}

func TestCreditApplier_Apply(t *testing.T) {
	ctx := context.Background()
	creditedAt := testStart.Add(2 * time.Minute)

	t.Run("credits and publishes event", func(t *testing.T) {
		credits := new(mockCreditRepository)
		producer := new(mockKafkaProducer)
		applier := NewCreditApplier(credits, producer)
		applier.now = func() time.Time { return creditedAt }
		pair := testPair()

		credits.On("ApplyCredit", mock.Anything, pair.Session, pair.Transfer, creditedAt).Return(nil)
		producer.On("Send", mock.Anything, models.TopicDeposits, int64(7), mock.MatchedBy(func(value []byte) bool {
			var event models.DepositCreditedEvent
			if err := json.Unmarshal(value, &event); err != nil {
				return false
			}
			return event.EventType == models.EventDepositCredited &&
				event.UserID == 7 &&
				event.SessionID == "s1" &&
				event.ExternalTxID == "tx-1" &&
				event.Amount == "25" &&
				event.CreditedAt.Equal(creditedAt)
		})).Return(nil)

		ok, err := applier.Apply(ctx, pair)
		require.NoError(t, err)
		assert.True(t, ok)
		credits.AssertExpectations(t)
		producer.AssertExpectations(t)
	})

	t.Run("already credited is not an error", func(t *testing.T) {
		credits := new(mockCreditRepository)
		producer := new(mockKafkaProducer)
		applier := NewCreditApplier(credits, producer)
		credits.On("ApplyCredit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(pkgerrors.ErrAlreadyCredited)

		ok, err := applier.Apply(ctx, testPair())
		assert.NoError(t, err)
		assert.False(t, ok)
		producer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("session marked credited is skipped", func(t *testing.T) {
		credits := new(mockCreditRepository)
		applier := NewCreditApplier(credits, nil)
		pair := testPair()
		pair.Session.Credited = true

		ok, err := applier.Apply(ctx, pair)
		assert.NoError(t, err)
		assert.False(t, ok)
		credits.AssertNotCalled(t, "ApplyCredit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("persistence failure", func(t *testing.T) {
		credits := new(mockCreditRepository)
		producer := new(mockKafkaProducer)
		applier := NewCreditApplier(credits, producer)
		credits.On("ApplyCredit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(fmt.Errorf("%w: failed to commit transaction: %w", pkgerrors.ErrPersistence, errors.New("commit error")))

		ok, err := applier.Apply(ctx, testPair())
		assert.False(t, ok)
		assert.ErrorIs(t, err, pkgerrors.ErrPersistence)
		producer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("publish failure keeps the credit", func(t *testing.T) {
		credits := new(mockCreditRepository)
		producer := new(mockKafkaProducer)
		applier := NewCreditApplier(credits, producer)
		credits.On("ApplyCredit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		producer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

		ok, err := applier.Apply(ctx, testPair())
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("nil producer", func(t *testing.T) {
		credits := new(mockCreditRepository)
		applier := NewCreditApplier(credits, nil)
		credits.On("ApplyCredit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		ok, err := applier.Apply(ctx, testPair())
		assert.NoError(t, err)
		assert.True(t, ok)
	})
}
