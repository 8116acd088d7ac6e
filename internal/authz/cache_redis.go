package authz

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "authz:cache:"
	cacheIndexKey  = "authz:cache:index"
)

// RedisCache implements Cache on Redis. Every entry is tracked in an index
// set so InvalidateAll can drop all entries without scanning the keyspace.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps the given client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		// Treat a corrupt entry as a miss; it will be overwritten.
		return nil, false, nil
	}
	return values, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, values []string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, cacheKeyPrefix+key, data, ttl)
	pipe.SAdd(ctx, cacheIndexKey, cacheKeyPrefix+key)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	keys, err := c.client.SMembers(ctx, cacheIndexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, cacheIndexKey)
	_, err = pipe.Exec(ctx)
	return err
}
