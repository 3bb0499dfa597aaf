// Package cache keeps stock levels and consumer idempotency markers in Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/medflow/stockledger/pkg/config"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis and verifies the connection
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
