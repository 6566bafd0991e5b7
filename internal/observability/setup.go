package observability

import (
	"context"

	"github.com/tradespot/deposit-service/internal/config"
	"github.com/tradespot/deposit-service/internal/infrastructure/observability"
)

func Setup(serviceName string, cfg *config.Config) func(context.Context) error {
	observability.InitLogger(cfg.LogLevel)
	observability.InitMetrics(cfg.MetricsAddr)
	return observability.InitTracing(serviceName, cfg.OTLPEndpoint)
}
