package observability

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	PollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposit_poll_ticks_total",
			Help: "Reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	ExternalFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deposit_external_fetch_failures_total",
			Help: "Failed calls to the external deposit source",
		},
	)

	DepositCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposit_credits_total",
			Help: "Credit attempts by result",
		},
		[]string{"result"},
	)

	SessionsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deposit_sessions_expired_total",
			Help: "Deposit sessions that expired without a matching transfer",
		},
	)
)

func init() {
	prometheus.MustRegister(RepositoryCalls, RepositoryDuration, PollTicks, ExternalFetchFailures, DepositCredits, SessionsExpired)
}

// InitMetrics serves /metrics on its own listener.
func InitMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
}
