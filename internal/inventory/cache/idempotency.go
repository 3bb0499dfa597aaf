package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "inventory:event:"

// IdempotencyStore remembers processed event IDs so redelivered messages
// are skipped. IDs are written once handling succeeded.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore creates an idempotency store
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Processed reports whether the event ID was recorded
func (s *IdempotencyStore) Processed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, idempotencyKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records the event ID for the store's TTL
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, idempotencyKeyPrefix+eventID, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}
