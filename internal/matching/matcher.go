// Package matching pairs open deposit sessions with transfers reported by the
// exchange. It performs no I/O; callers persist the decisions.
package matching

import (
	"time"

	"github.com/tradespot/deposit-service/internal/models"
)

type Pair struct {
	Session  models.DepositSession
	Transfer models.ExternalTransfer
}

// Match returns at most one transfer per session and at most one session per
// transfer. Sessions are served in the order given, and each takes the first
// eligible transfer in the order given that no earlier session has taken.
// Transfers repeating an already seen TransactionID are ignored.
func Match(sessions []models.DepositSession, transfers []models.ExternalTransfer) []Pair {
	used := make(map[string]bool, len(transfers))
	candidates := make([]models.ExternalTransfer, 0, len(transfers))
	seen := make(map[string]bool, len(transfers))
	for _, t := range transfers {
		if t.TransactionID == "" || seen[t.TransactionID] {
			continue
		}
		seen[t.TransactionID] = true
		candidates = append(candidates, t)
	}

	var pairs []Pair
	for _, s := range sessions {
		if s.Credited {
			continue
		}
		for _, t := range candidates {
			if used[t.TransactionID] || !Eligible(s, t) {
				continue
			}
			used[t.TransactionID] = true
			pairs = append(pairs, Pair{Session: s, Transfer: t})
			break
		}
	}
	return pairs
}

// Eligible reports whether t can fund s: exact amount, same address, a
// finalized status, and observed inside the session window.
func Eligible(s models.DepositSession, t models.ExternalTransfer) bool {
	if t.Status != models.TransferSuccess {
		return false
	}
	if t.DestinationAddress != s.Address {
		return false
	}
	if !t.Amount.Equal(s.Amount) {
		return false
	}
	if t.ObservedAt.Before(s.CreatedAt) || t.ObservedAt.After(s.ExpiresAt) {
		return false
	}
	return true
}

// Status derives the user-facing state from the latest session. A nil session
// reports failed.
func Status(latest *models.DepositSession, now time.Time) models.SessionStatus {
	switch {
	case latest == nil:
		return models.SessionFailed
	case latest.Credited:
		return models.SessionSuccess
	case now.Before(latest.ExpiresAt):
		return models.SessionPending
	default:
		return models.SessionFailed
	}
}
