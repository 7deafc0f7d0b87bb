package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCachePrefix = "rbac:perms:"

// RedisCache shares resolved sets between processes. Redis expires keys TTL after SET,
// which matches the no-sliding-expiration rule.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache builds a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Get loads the set. Redis failures are logged and reported as a miss.
func (c *RedisCache) Get(ctx context.Context, userID int64) (PermissionSet, bool) {
	payload, err := c.client.Get(ctx, redisCacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("rbac cache get", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return PermissionSet{}, false
	}
	var set PermissionSet
	if err := json.Unmarshal(payload, &set); err != nil {
		c.logger.Warn("rbac cache decode", slog.Int64("user_id", userID), slog.Any("error", err))
		return PermissionSet{}, false
	}
	return set, true
}

// Put stores the set with the configured TTL.
func (c *RedisCache) Put(ctx context.Context, userID int64, set PermissionSet) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisCacheKey(userID), raw, c.ttl).Err()
}

// Invalidate deletes the user's key.
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, redisCacheKey(userID)).Err()
}

// Clear deletes every cached set.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisCachePrefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

func redisCacheKey(userID int64) string {
	return redisCachePrefix + strconv.FormatInt(userID, 10)
}

var _ Cache = (*RedisCache)(nil)
