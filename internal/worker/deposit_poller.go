package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	stderrors "errors"

	"github.com/tradespot/deposit-service/internal/infrastructure/redis"
	service "github.com/tradespot/deposit-service/internal/services"
)

const pollLockKey = "deposit:poll:lock"

type Reconciler interface {
	RunOnce(ctx context.Context) (service.TickResult, error)
}

// DepositPoller drives one reconciliation pass per interval, independent of
// HTTP traffic.
type DepositPoller struct {
	reconciler  Reconciler
	redisClient redis.RedisClient
	interval    time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewDepositPoller creates a poller. redisClient may be nil, in which case
// every instance polls on every tick.
func NewDepositPoller(reconciler Reconciler, redisClient redis.RedisClient, interval time.Duration) *DepositPoller {
	return &DepositPoller{
		reconciler:  reconciler,
		redisClient: redisClient,
		interval:    interval,
		stopChan:    make(chan struct{}),
	}
}

// Start blocks until Stop is called or ctx is cancelled.
func (p *DepositPoller) Start(ctx context.Context) {
	slog.Info("starting deposit poller", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				slog.Error("deposit poll tick failed", "error", err)
			}

		case <-p.stopChan:
			slog.Info("stopping deposit poller")
			return

		case <-ctx.Done():
			slog.Info("context cancelled, stopping deposit poller")
			return
		}
	}
}

func (p *DepositPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}

// tick never lets a panic escape, so the next tick still runs.
func (p *DepositPoller) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in deposit poll tick: %v", r)
		}
	}()

	if !p.acquire(ctx) {
		slog.Debug("deposit poll lock held elsewhere, skipping tick")
		return nil
	}

	tickCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	_, err = p.reconciler.RunOnce(tickCtx)
	if stderrors.Is(err, context.DeadlineExceeded) {
		slog.Warn("deposit poll tick exceeded its interval", "interval", p.interval)
	}
	return err
}

// acquire takes the cross-instance tick lock. The lock expires on its own
// after one interval; it is never released early so that other instances
// skip the rest of this interval.
func (p *DepositPoller) acquire(ctx context.Context) bool {
	if p.redisClient == nil {
		return true
	}
	ok, err := p.redisClient.SetNX(ctx, pollLockKey, "locked", p.interval)
	if err != nil {
		slog.Warn("failed to acquire deposit poll lock, polling anyway", "error", err)
		return true
	}
	return ok
}
