package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/tenant"
	"github.com/redis/go-redis/v9"
)

const (
	stockKeyPrefix = "inventory:stock:"
	genKeyPrefix   = "inventory:stockgen:"

	// genTTL outlives any read that could still hand in an old generation.
	genTTL = 24 * time.Hour
)

// StockCache is a read-through cache of computed stock levels. Entries are
// tenant scoped and dropped after every committed change to the product.
// Each product has a generation counter bumped by Invalidate; Set only
// writes when the generation is still the one read before computing the
// level. Redis failures degrade to cache misses.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewStockCache creates a stock level cache
func NewStockCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *StockCache {
	return &StockCache{client: client, ttl: ttl, logger: log.WithComponent("stock_cache")}
}

func stockKey(ctx context.Context, productID string) (string, bool) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return "", false
	}
	return stockKeyPrefix + tenantID + ":" + productID, true
}

func genKey(ctx context.Context, productID string) (string, bool) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return "", false
	}
	return genKeyPrefix + tenantID + ":" + productID, true
}

// Generation returns the product's invalidation counter, or -1 when it
// cannot be read.
func (c *StockCache) Generation(ctx context.Context, productID string) int64 {
	key, ok := genKey(ctx, productID)
	if !ok {
		return -1
	}
	gen, err := c.client.Get(ctx, key).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0
	case err != nil:
		c.logger.Warn().Err(err).Str("product_id", productID).Msg("stock cache generation read failed")
		return -1
	}
	return gen
}

// Get returns the cached level, if any
func (c *StockCache) Get(ctx context.Context, productID string) (*domain.StockLevel, bool) {
	key, ok := stockKey(ctx, productID)
	if !ok {
		return nil, false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("product_id", productID).Msg("stock cache read failed")
		}
		return nil, false
	}

	var level domain.StockLevel
	if err := json.Unmarshal(raw, &level); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable stock cache entry")
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return &level, true
}

// Set stores a level computed after reading generation. It does nothing
// when the product was invalidated since.
func (c *StockCache) Set(ctx context.Context, level *domain.StockLevel, generation int64) {
	if generation < 0 {
		return
	}
	key, ok := stockKey(ctx, level.ProductID)
	if !ok {
		return
	}
	gkey, _ := genKey(ctx, level.ProductID)
	raw, err := json.Marshal(level)
	if err != nil {
		return
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, gkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, gkey)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Invalidated while writing.
	case err != nil:
		c.logger.Warn().Err(err).Str("product_id", level.ProductID).Msg("stock cache write failed")
	}
}

// Invalidate drops the levels of the given products and bumps their
// generations
func (c *StockCache) Invalidate(ctx context.Context, productIDs ...string) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range productIDs {
			gkey, ok := genKey(ctx, id)
			if !ok {
				return nil
			}
			key, _ := stockKey(ctx, id)
			pipe.Incr(ctx, gkey)
			pipe.Expire(ctx, gkey, genTTL)
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		// A stale entry survives at most one TTL.
		c.logger.Error().Err(err).Strs("product_ids", productIDs).Msg("stock cache invalidation failed")
	}
}
