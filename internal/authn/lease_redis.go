package authn

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"promanage.org/internal/ids"
)

const leasePrefix = "auth:lease:"

// RedisLease implements Lease as a conditional set with TTL.
type RedisLease struct {
	client redis.UniversalClient
}

// NewRedisLease wraps the given client.
func NewRedisLease(client redis.UniversalClient) *RedisLease {
	return &RedisLease{client: client}
}

var _ Lease = (*RedisLease)(nil)

// Acquire takes the lease iff the key is free. The stored holder value is
// informational; expiry is what releases a crashed holder.
func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, leasePrefix+key, ids.New(), ttl).Result()
}

// Release drops the lease. Deleting an absent or expired key is a no-op.
func (l *RedisLease) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, leasePrefix+key).Err()
}
