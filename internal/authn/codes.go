package authn

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeStore keeps password-reset verification codes. Codes are one-time:
// Delete is called immediately after a successful reset, and the TTL expires
// unused codes.
type CodeStore interface {
	Set(ctx context.Context, email, code string, ttl time.Duration) error
	Get(ctx context.Context, email string) (string, bool, error)
	Delete(ctx context.Context, email string) error
}

const resetCodePrefix = "auth:reset_code:"

// RedisCodeStore implements CodeStore on Redis.
type RedisCodeStore struct {
	client redis.UniversalClient
}

// NewRedisCodeStore wraps the given client.
func NewRedisCodeStore(client redis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

var _ CodeStore = (*RedisCodeStore)(nil)

func (s *RedisCodeStore) Set(ctx context.Context, email, code string, ttl time.Duration) error {
	return s.client.Set(ctx, resetCodePrefix+email, code, ttl).Err()
}

func (s *RedisCodeStore) Get(ctx context.Context, email string) (string, bool, error) {
	code, err := s.client.Get(ctx, resetCodePrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, email string) error {
	return s.client.Del(ctx, resetCodePrefix+email).Err()
}
