package authz

import (
	"context"
	"strconv"
	"time"
)

// DefaultCacheTTL bounds staleness for cached permission projections even if
// an eviction is missed.
const DefaultCacheTTL = 10 * time.Minute

// Cache stores permission-code projections. Keys are opaque to the
// implementation; InvalidateAll drops every entry across all tenants, which
// is the contract every mutation path relies on.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Set(ctx context.Context, key string, values []string, ttl time.Duration) error
	InvalidateAll(ctx context.Context) error
}

func userPermissionsKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":permissions"
}

func rolePermissionsKey(roleID int64) string {
	return "role:" + strconv.FormatInt(roleID, 10) + ":permissions"
}

// NopCache satisfies Cache without storing anything. Used when no cache
// backend is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]string, bool, error) { return nil, false, nil }

func (NopCache) Set(context.Context, string, []string, time.Duration) error { return nil }

func (NopCache) InvalidateAll(context.Context) error { return nil }
