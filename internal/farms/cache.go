package farms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// InventoryCache serves the farm inventory view from Redis. Concurrent cache
// misses for the same farm are collapsed into one loader call.
type InventoryCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewInventoryCache instantiates the cache helper.
func NewInventoryCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *InventoryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryCache{client: client, ttl: ttl, logger: logger}
}

func inventoryKey(farmID int64) string {
	return fmt.Sprintf("farms:inventory:%d", farmID)
}

// Fetch loads a cached inventory view or populates it using the loader.
// Cache failures degrade to a direct load; they never fail the request.
func (c *InventoryCache) Fetch(ctx context.Context, farmID int64, loader func(context.Context) (Inventory, error)) (Inventory, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := inventoryKey(farmID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var inv Inventory
		if err := json.Unmarshal(raw, &inv); err == nil {
			return inv, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("inventory cache read failed", slog.Any("error", err), slog.Int64("farm_id", farmID))
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		inv, err := loader(ctx)
		if err != nil {
			return Inventory{}, err
		}
		inv.GeneratedAt = time.Now().UTC()
		if data, err := json.Marshal(inv); err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
				c.logger.Warn("inventory cache write failed", slog.Any("error", err), slog.Int64("farm_id", farmID))
			}
		}
		return inv, nil
	})
	if err != nil {
		return Inventory{}, err
	}
	return result.(Inventory), nil
}

// Invalidate drops the cached view after a ledger write. Implements the
// ledger's CacheInvalidator port.
func (c *InventoryCache) Invalidate(ctx context.Context, farmID int64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, inventoryKey(farmID)).Err(); err != nil {
		c.logger.Warn("inventory cache invalidate failed", slog.Any("error", err), slog.Int64("farm_id", farmID))
	}
}
