package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradespot/deposit-service/internal/infrastructure/observability"
	"github.com/tradespot/deposit-service/internal/matching"
	"github.com/tradespot/deposit-service/internal/models"
	"github.com/tradespot/deposit-service/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DepositSource lists recent incoming transfers to the custodial address.
type DepositSource interface {
	FetchRecentTransfers(ctx context.Context) ([]models.ExternalTransfer, error)
}

type TickResult struct {
	Open     int
	Fetched  int
	Matched  int
	Credited int
	Expired  int
}

// Reconciler runs one matching pass over open sessions and external transfers.
// RunOnce is safe to call concurrently; double credits are prevented by the
// credit repository, not by serializing passes.
type Reconciler struct {
	sessions repository.SessionRepository
	source   DepositSource
	applier  *CreditApplier
	now      func() time.Time

	mu       sync.Mutex
	watching map[string]models.DepositSession
}

func NewReconciler(sessions repository.SessionRepository, source DepositSource, applier *CreditApplier) *Reconciler {
	return &Reconciler{
		sessions: sessions,
		source:   source,
		applier:  applier,
		now:      time.Now,
		watching: make(map[string]models.DepositSession),
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) (result TickResult, err error) {
	tracer := otel.Tracer("deposit-service")
	ctx, span := tracer.Start(ctx, "ReconcileDeposits")
	defer span.End()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("open", result.Open),
			attribute.Int("fetched", result.Fetched),
			attribute.Int("credited", result.Credited),
			attribute.Int("expired", result.Expired),
		)
		observability.PollTicks.WithLabelValues(outcome).Inc()
	}()

	open, err := r.sessions.ListOpen(ctx, r.now())
	if err != nil {
		return result, fmt.Errorf("failed to load open sessions: %w", err)
	}
	result.Open = len(open)
	r.watch(open)

	credited := make(map[string]bool)
	if len(open) > 0 {
		transfers := r.fetch(ctx)
		result.Fetched = len(transfers)

		transfers, err = r.dropConsumed(ctx, transfers)
		if err != nil {
			return result, err
		}

		pairs := matching.Match(open, transfers)
		result.Matched = len(pairs)
		for _, pair := range pairs {
			ok, applyErr := r.applier.Apply(ctx, pair)
			if applyErr != nil {
				// The session stays uncredited and is retried next tick.
				continue
			}
			// Whether this pass or a concurrent one credited it, stop watching.
			credited[pair.Session.ID] = true
			if ok {
				result.Credited++
			}
		}
	}

	result.Expired = r.sweep(ctx, credited, r.now())
	if result.Open > 0 {
		slog.Info("deposit reconciliation finished",
			"open", result.Open,
			"fetched", result.Fetched,
			"matched", result.Matched,
			"credited", result.Credited,
			"expired", result.Expired)
	}
	return result, nil
}

// fetch treats an unavailable source as an empty batch.
func (r *Reconciler) fetch(ctx context.Context) []models.ExternalTransfer {
	transfers, err := r.source.FetchRecentTransfers(ctx)
	if err != nil {
		observability.ExternalFetchFailures.Inc()
		slog.Warn("external deposit source unavailable, skipping this tick", "error", err)
		return nil
	}
	return transfers
}

func (r *Reconciler) dropConsumed(ctx context.Context, transfers []models.ExternalTransfer) ([]models.ExternalTransfer, error) {
	if len(transfers) == 0 {
		return transfers, nil
	}
	ids := make([]string, 0, len(transfers))
	for _, t := range transfers {
		ids = append(ids, t.TransactionID)
	}
	consumed, err := r.sessions.FilterConsumed(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to filter consumed transfers: %w", err)
	}
	if len(consumed) == 0 {
		return transfers, nil
	}

	fresh := make([]models.ExternalTransfer, 0, len(transfers))
	for _, t := range transfers {
		if !consumed[t.TransactionID] {
			fresh = append(fresh, t)
		}
	}
	return fresh, nil
}

func (r *Reconciler) watch(open []models.DepositSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range open {
		r.watching[s.ID] = s
	}
}

// sweep stops watching credited sessions and reports the ones whose window
// has closed without a credit. Sessions another instance credited while this
// one was watching are confirmed against the store before being reported.
func (r *Reconciler) sweep(ctx context.Context, credited map[string]bool, now time.Time) int {
	candidates := r.closed(credited, now)
	if len(candidates) == 0 {
		return 0
	}

	ids := make([]string, 0, len(candidates))
	for _, s := range candidates {
		ids = append(ids, s.ID)
	}
	creditedElsewhere, err := r.sessions.FilterCredited(ctx, ids)
	if err != nil {
		slog.Warn("failed to confirm expired sessions, retrying next tick", "sessions", len(ids), "error", err)
		r.watch(candidates)
		return 0
	}

	expired := 0
	for _, s := range candidates {
		if creditedElsewhere[s.ID] {
			continue
		}
		expired++
		observability.SessionsExpired.Inc()
		slog.Info("deposit session expired",
			"session_id", s.ID,
			"user_id", s.UserID,
			"amount", s.Amount.String(),
			"expires_at", s.ExpiresAt)
	}
	return expired
}

// closed removes credited and past-expiry sessions from the watch list and
// returns the past-expiry ones.
func (r *Reconciler) closed(credited map[string]bool, now time.Time) []models.DepositSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []models.DepositSession
	for id, s := range r.watching {
		switch {
		case credited[id]:
			delete(r.watching, id)
		case !now.Before(s.ExpiresAt):
			delete(r.watching, id)
			candidates = append(candidates, s)
		}
	}
	return candidates
}
