package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradespot/deposit-service/internal/models"
)

const addr = "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"

var base = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func session(id string, userID int32, amount string, createdAt time.Time) models.DepositSession {
	return models.DepositSession{
		ID:        id,
		UserID:    userID,
		Amount:    decimal.RequireFromString(amount),
		Address:   addr,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(15 * time.Minute),
	}
}

func transfer(id, amount string, observedAt time.Time) models.ExternalTransfer {
	return models.ExternalTransfer{
		TransactionID:      id,
		Amount:             decimal.RequireFromString(amount),
		DestinationAddress: addr,
		Status:             models.TransferSuccess,
		ObservedAt:         observedAt,
	}
}

func TestMatch_ExactAmountAndCanonicalForm(t *testing.T) {
	s := session("s1", 1, "25", base)

	pairs := Match([]models.DepositSession{s}, []models.ExternalTransfer{
		transfer("t-short", "24.99", base.Add(time.Minute)),
		transfer("t-long", "25.000000", base.Add(2*time.Minute)),
	})

	require.Len(t, pairs, 1)
	assert.Equal(t, "s1", pairs[0].Session.ID)
	assert.Equal(t, "t-long", pairs[0].Transfer.TransactionID)
}

func TestMatch_Rejections(t *testing.T) {
	s := session("s1", 1, "25", base)

	tests := []struct {
		name   string
		mutate func(*models.ExternalTransfer)
	}{
		{"wrong address", func(tr *models.ExternalTransfer) { tr.DestinationAddress = "TOther" }},
		{"pending status", func(tr *models.ExternalTransfer) { tr.Status = models.TransferPending }},
		{"failed status", func(tr *models.ExternalTransfer) { tr.Status = models.TransferFailed }},
		{"observed before session", func(tr *models.ExternalTransfer) { tr.ObservedAt = base.Add(-time.Second) }},
		{"observed after expiry", func(tr *models.ExternalTransfer) { tr.ObservedAt = base.Add(15*time.Minute + time.Second) }},
		{"larger amount", func(tr *models.ExternalTransfer) { tr.Amount = decimal.RequireFromString("25.01") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := transfer("t1", "25", base.Add(time.Minute))
			tt.mutate(&tr)
			assert.Empty(t, Match([]models.DepositSession{s}, []models.ExternalTransfer{tr}))
		})
	}
}

func TestMatch_BoundaryTimesAreInclusive(t *testing.T) {
	s := session("s1", 1, "25", base)

	atCreation := Match([]models.DepositSession{s}, []models.ExternalTransfer{transfer("t1", "25", base)})
	require.Len(t, atCreation, 1)

	atExpiry := Match([]models.DepositSession{s}, []models.ExternalTransfer{transfer("t2", "25", s.ExpiresAt)})
	require.Len(t, atExpiry, 1)
}

func TestMatch_FirstEligibleTransferWins(t *testing.T) {
	s := session("s1", 1, "25", base)

	pairs := Match([]models.DepositSession{s}, []models.ExternalTransfer{
		transfer("t-first", "25", base.Add(5*time.Minute)),
		transfer("t-second", "25", base.Add(time.Minute)),
	})

	require.Len(t, pairs, 1)
	assert.Equal(t, "t-first", pairs[0].Transfer.TransactionID)
}

func TestMatch_TransferUsedOncePerPass(t *testing.T) {
	s1 := session("s1", 1, "25", base)
	s2 := session("s2", 2, "25", base.Add(time.Second))

	t.Run("single transfer goes to first session", func(t *testing.T) {
		pairs := Match([]models.DepositSession{s1, s2}, []models.ExternalTransfer{
			transfer("t1", "25", base.Add(time.Minute)),
		})
		require.Len(t, pairs, 1)
		assert.Equal(t, "s1", pairs[0].Session.ID)
	})

	t.Run("two transfers fund two sessions", func(t *testing.T) {
		pairs := Match([]models.DepositSession{s1, s2}, []models.ExternalTransfer{
			transfer("t1", "25", base.Add(time.Minute)),
			transfer("t2", "25", base.Add(2*time.Minute)),
		})
		require.Len(t, pairs, 2)
		assert.Equal(t, "t1", pairs[0].Transfer.TransactionID)
		assert.Equal(t, "t2", pairs[1].Transfer.TransactionID)
	})

	t.Run("duplicate transfer id counts once", func(t *testing.T) {
		pairs := Match([]models.DepositSession{s1, s2}, []models.ExternalTransfer{
			transfer("t1", "25", base.Add(time.Minute)),
			transfer("t1", "25", base.Add(time.Minute)),
		})
		require.Len(t, pairs, 1)
	})

	t.Run("session order decides", func(t *testing.T) {
		pairs := Match([]models.DepositSession{s2, s1}, []models.ExternalTransfer{
			transfer("t1", "25", base.Add(time.Minute)),
		})
		require.Len(t, pairs, 1)
		assert.Equal(t, "s2", pairs[0].Session.ID)
	})
}

func TestMatch_TemporalOrderingAcrossSessions(t *testing.T) {
	early := session("early", 1, "25", base)
	late := session("late", 2, "25", base.Add(10*time.Minute))

	// Observed before "late" existed, so only "early" may take it even when
	// "late" is served first.
	pairs := Match([]models.DepositSession{late, early}, []models.ExternalTransfer{
		transfer("t1", "25", base.Add(5*time.Minute)),
	})

	require.Len(t, pairs, 1)
	assert.Equal(t, "early", pairs[0].Session.ID)
}

func TestMatch_SkipsCreditedSessionsAndEmptyIDs(t *testing.T) {
	credited := session("s1", 1, "25", base)
	credited.Credited = true

	pairs := Match([]models.DepositSession{credited}, []models.ExternalTransfer{transfer("t1", "25", base.Add(time.Minute))})
	assert.Empty(t, pairs)

	open := session("s2", 2, "25", base)
	pairs = Match([]models.DepositSession{open}, []models.ExternalTransfer{transfer("", "25", base.Add(time.Minute))})
	assert.Empty(t, pairs)
}

func TestMatch_DoesNotMutateInputs(t *testing.T) {
	sessions := []models.DepositSession{session("s1", 1, "25", base)}
	transfers := []models.ExternalTransfer{transfer("t1", "25", base.Add(time.Minute))}

	Match(sessions, transfers)

	assert.False(t, sessions[0].Credited)
	assert.Empty(t, sessions[0].MatchedTransactionID)
}

func TestStatus(t *testing.T) {
	s := session("s1", 1, "12", base)

	assert.Equal(t, models.SessionFailed, Status(nil, base))
	assert.Equal(t, models.SessionPending, Status(&s, base.Add(time.Minute)))
	assert.Equal(t, models.SessionFailed, Status(&s, s.ExpiresAt))
	assert.Equal(t, models.SessionFailed, Status(&s, s.ExpiresAt.Add(time.Hour)))

	s.Credited = true
	assert.Equal(t, models.SessionSuccess, Status(&s, s.ExpiresAt.Add(time.Hour)))
}
