// Package queue consumes Redis lists and fires queue-type triggers
// with each popped message as the run's trigger context.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/protocol"
)

// Consumer drains one Redis list for one materialized trigger.
type Consumer struct {
	trigger *models.Trigger
	queue   string

	client   redis.UniversalClient
	callback protocol.TriggerCallback
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewConsumer builds a consumer from the trigger's config. Supported
// config keys: queue (required), connection.addr, connection.password,
// connection.db.
func NewConsumer(ctx context.Context, trigger *models.Trigger, logger *slog.Logger) (*Consumer, error) {
	queueName, _ := trigger.Config["queue"].(string)
	if queueName == "" {
		return nil, errors.New("queue trigger requires a queue name")
	}

	connection := map[string]string{}
	if raw, ok := trigger.Config["connection"].(map[string]any); ok {
		for key, value := range raw {
			if str, ok := value.(string); ok {
				connection[key] = str
			}
		}
	}

	consumer := &Consumer{
		trigger: trigger,
		queue:   queueName,
		stopCh:  make(chan struct{}),
		logger: logger.With(
			"module", "queue_trigger",
			"trigger_id", trigger.ID,
			"queue", queueName,
		),
	}

	if err := consumer.connect(ctx, connection); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *Consumer) connect(ctx context.Context, connection map[string]string) error {
	addr := connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0

	if dbStr := connection["db"]; dbStr != "" {
		parsed, err := strconv.Atoi(dbStr)
		if err != nil {
			return fmt.Errorf("invalid redis db '%s': %w", dbStr, err)
		}

		db = parsed
	}

	c.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: connection["password"],
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return nil
}

func (c *Consumer) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	c.callback = callback

	c.wg.Add(1)
	go c.consume(ctx)

	return nil
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	c.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			if err := c.processMessage(ctx); err != nil {
				c.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, 1*time.Second, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	var payload map[string]any
	if err := json.Unmarshal([]byte(message), &payload); err != nil {
		payload = map[string]any{"message": message}
	}

	if payload["timestamp"] == nil {
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	if err := c.callback(ctx, c.trigger, payload); err != nil {
		c.logger.ErrorContext(ctx, "Trigger callback failed", "error", err)
	}

	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Stopping queue consumer")

	close(c.stopCh)
	c.wg.Wait()

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			c.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
