package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cards::"

// Cache is a JSON cache-aside store. Implementations never fail the caller:
// errors behave like misses.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

// CardKey is the cache key of a card by id.
func CardKey(id string) string { return keyPrefix + "byId:" + id }

// PrimaryBalanceKey is the cache key of a card's primary balance.
func PrimaryBalanceKey(cardID string) string { return keyPrefix + "primaryBalance:" + cardID }

// MovementsKey is the cache key of a card's recent movements.
func MovementsKey(cardID string) string { return keyPrefix + "movements:" + cardID }

// CardKeys returns every key cached for cardID.
func CardKeys(cardID string) []string {
	return []string{CardKey(cardID), PrimaryBalanceKey(cardID), MovementsKey(cardID)}
}

// Redis wraps redis.Client but fails safe by swallowing connectivity errors.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis creates a cache on client. A nil client yields a cache that always misses.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

// GetJSON decodes the cached value into dst and reports whether it was found.
func (c *Redis) GetJSON(ctx context.Context, key string, dst any) bool {
	if c == nil || c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("cache get failed", key, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.warn("cache decode failed", key, err)
		return false
	}
	return true
}

// SetJSON stores value with ttl, ignoring redis errors.
func (c *Redis) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil || c.client == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.warn("cache encode failed", key, err)
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.warn("cache set failed", key, err)
	}
}

// Delete removes keys, ignoring redis errors.
func (c *Redis) Delete(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.warn("cache delete failed", keys[0], err)
	}
}

func (c *Redis) warn(msg, key string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.String("key", key), slog.Any("error", err))
	}
}

// Noop is a cache that stores nothing.
type Noop struct{}

func (Noop) GetJSON(context.Context, string, any) bool          { return false }
func (Noop) SetJSON(context.Context, string, any, time.Duration) {}
func (Noop) Delete(context.Context, ...string)                  {}
