package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr     string
	MetricsAddr  string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string
	OTLPEndpoint string
	LogLevel     string

	Exchange ExchangeConfig
	Deposit  DepositConfig
}

type ExchangeConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int64
	Coin       string
	Chain      string
	Limit      int
	Timeout    time.Duration
}

type DepositConfig struct {
	Address      string
	MinAmount    decimal.Decimal
	Window       time.Duration
	PollInterval time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:     getString("HTTP_ADDR", ":8080"),
		MetricsAddr:  getString("METRICS_ADDR", ":9090"),
		PostgresDSN:  getString("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=tradespot sslmode=disable"),
		RedisAddr:    getString("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: []string{getString("KAFKA_BROKER", "localhost:9092")},
		JWTSecret:    getString("JWT_SECRET", "supersecret"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		LogLevel:     getString("LOG_LEVEL", "info"),
		Exchange: ExchangeConfig{
			BaseURL:    getString("EXCHANGE_BASE_URL", "https://api.bybit.com"),
			APIKey:     os.Getenv("EXCHANGE_API_KEY"),
			APISecret:  os.Getenv("EXCHANGE_API_SECRET"),
			RecvWindow: int64(getInt("EXCHANGE_RECV_WINDOW", 5000)),
			Coin:       getString("EXCHANGE_COIN", "USDT"),
			Chain:      getString("EXCHANGE_CHAIN", "TRX"),
			Limit:      getInt("EXCHANGE_LIMIT", 50),
			Timeout:    getDuration("EXCHANGE_TIMEOUT", 10*time.Second),
		},
		Deposit: DepositConfig{
			Address:      os.Getenv("DEPOSIT_ADDRESS"),
			MinAmount:    getDecimal("DEPOSIT_MIN_AMOUNT", decimal.NewFromInt(10)),
			Window:       getDuration("DEPOSIT_WINDOW", 15*time.Minute),
			PollInterval: getDuration("DEPOSIT_POLL_INTERVAL", time.Minute),
		},
	}

	if cfg.Deposit.Address == "" {
		slog.Warn("DEPOSIT_ADDRESS is not set, deposit sessions will carry an empty address")
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"exchange_base_url", cfg.Exchange.BaseURL,
		"exchange_coin", cfg.Exchange.Coin,
		"exchange_chain", cfg.Exchange.Chain,
		"deposit_window", cfg.Deposit.Window,
		"deposit_poll_interval", cfg.Deposit.PollInterval,
		"deposit_min_amount", cfg.Deposit.MinAmount.String())
	return cfg
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer in env, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in env, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		slog.Warn("invalid decimal in env, using default", "key", key, "value", v, "default", def.String())
		return def
	}
	return d
}
