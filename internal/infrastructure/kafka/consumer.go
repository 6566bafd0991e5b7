package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/tradespot/deposit-service/internal/infrastructure/redis"
	"github.com/tradespot/deposit-service/internal/models"
)

// Consumer reads deposit events and drops the cached balance of the
// credited user so the next balance read goes to Postgres.
type Consumer struct {
	reader      *kafka.Reader
	redisClient redis.RedisClient
}

func NewConsumer(brokers []string, topic, groupID string, redisClient redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		redisClient: redisClient,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped", "topic", c.reader.Config().Topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))
		if err := c.HandleMessage(ctx, msg.Value); err != nil {
			slog.Error("failed to handle Kafka message", "topic", msg.Topic, "key", string(msg.Key), "error", err)
		}
	}
}

func (c *Consumer) HandleMessage(ctx context.Context, value []byte) error {
	var event models.DepositCreditedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal deposit event: %w", err)
	}

	switch event.EventType {
	case models.EventDepositCredited:
		if event.UserID == 0 {
			return fmt.Errorf("invalid deposit event: missing user_id")
		}
		if err := c.redisClient.Del(ctx, BalanceKey(event.UserID)); err != nil {
			return fmt.Errorf("failed to invalidate balance cache: %w", err)
		}
		slog.Info("deposit credited event processed",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"external_tx_id", event.ExternalTxID,
			"amount", event.Amount)
		return nil
	default:
		slog.Warn("unknown deposit event type", "type", event.EventType)
		return nil
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func BalanceKey(userID int32) string {
	return fmt.Sprintf("user:%d:balance", userID)
}
