package authn

import (
	"context"
	"time"
)

// Lease is a short-lived mutual-exclusion grant used to close check-then-act
// races during signup. Acquire answers busy (false) without error when the
// lease is held elsewhere; Release is idempotent and safe after expiry. The
// TTL bounds lock lifetime even if the holder crashes.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
