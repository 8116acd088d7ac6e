package token

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"promanage.org/internal/obs"
)

const denylistPrefix = "auth:denylist:"

// RedisRevocationStore implements RevocationStore on Redis. TTL is the
// token's remaining validity plus the validation leeway, so entries expire
// only once the tokens they block can no longer be accepted.
type RedisRevocationStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// RevocationOption customises a RedisRevocationStore.
type RevocationOption func(*RedisRevocationStore)

// WithRevocationClock overrides the time source.
func WithRevocationClock(now func() time.Time) RevocationOption {
	return func(s *RedisRevocationStore) { s.now = now }
}

// NewRedisRevocationStore wraps the given client.
func NewRedisRevocationStore(client redis.UniversalClient, opts ...RevocationOption) *RedisRevocationStore {
	s := &RedisRevocationStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ RevocationStore = (*RedisRevocationStore)(nil)

// Revoke records the token hash for as long as the token can still pass
// validation. Parsing accepts tokens up to clockSkew past expiry, so the
// entry must outlive that window too; only a token already beyond the leeway
// is a no-op, expiry alone keeps it out.
func (s *RedisRevocationStore) Revoke(ctx context.Context, rawToken string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now()) + clockSkew
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, denylistPrefix+hashToken(rawToken), "1", ttl).Err(); err != nil {
		return err
	}
	obs.TokensRevoked.Inc()
	return nil
}

// IsRevoked is an O(1) existence check on the token hash.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, rawToken string) (bool, error) {
	n, err := s.client.Exists(ctx, denylistPrefix+hashToken(rawToken)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
