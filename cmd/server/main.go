package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/tradespot/deposit-service/internal/api"
	"github.com/tradespot/deposit-service/internal/config"
	"github.com/tradespot/deposit-service/internal/handler"
	"github.com/tradespot/deposit-service/internal/infrastructure/exchange"
	"github.com/tradespot/deposit-service/internal/infrastructure/kafka"
	"github.com/tradespot/deposit-service/internal/infrastructure/redis"
	"github.com/tradespot/deposit-service/internal/models"
	"github.com/tradespot/deposit-service/internal/observability"
	core "github.com/tradespot/deposit-service/internal/repository/postgres"
	service "github.com/tradespot/deposit-service/internal/services"
	"github.com/tradespot/deposit-service/internal/worker"
)

func main() {
	cfg := config.Load()

	// Логи, метрики, трейсы
	shutdown := observability.Setup("deposit-service", cfg)
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping Postgres: %v", err)
	}

	userRepo := core.NewPostgresUserRepository(db)
	sessionRepo := core.NewPostgresSessionRepository(db)
	creditRepo := core.NewPostgresCreditRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	accounts := service.NewAccountService(userRepo, transactionRepo, redisClient, cfg.JWTSecret)
	deposits := service.NewDepositService(userRepo, sessionRepo, cfg.Deposit)

	// Сверка депозитов
	exchangeClient := exchange.NewClient(cfg.Exchange)
	applier := service.NewCreditApplier(creditRepo, producer)
	reconciler := service.NewReconciler(sessionRepo, exchangeClient, applier)
	poller := worker.NewDepositPoller(reconciler, redisClient, cfg.Deposit.PollInterval)
	go poller.Start(ctx)
	defer poller.Stop()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, models.TopicDeposits, "deposit-service-balance-cache", redisClient)
	go consumer.Consume(ctx)
	defer consumer.Close()

	h := handler.NewHandler(accounts, deposits)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
