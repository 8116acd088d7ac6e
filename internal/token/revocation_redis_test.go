package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRevocationStore(t *testing.T, opts ...RevocationOption) (*RedisRevocationStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRevocationStore(client, opts...), srv
}

func TestRevokeAndCheck(t *testing.T) {
	store, _ := newRevocationStore(t)
	ctx := context.Background()

	const raw = "header.payload.signature"
	if ok, err := store.IsRevoked(ctx, raw); err != nil || ok {
		t.Fatalf("fresh token = %v, %v; want not revoked", ok, err)
	}

	if err := store.Revoke(ctx, raw, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, err := store.IsRevoked(ctx, raw); err != nil || !ok {
		t.Fatalf("revoked token = %v, %v; want revoked", ok, err)
	}

	// Another token is unaffected.
	if ok, err := store.IsRevoked(ctx, "other.token.here"); err != nil || ok {
		t.Fatalf("other token = %v, %v; want not revoked", ok, err)
	}
}

func TestRevokeStoresHashNotToken(t *testing.T) {
	store, srv := newRevocationStore(t)

	const raw = "header.payload.signature"
	if err := store.Revoke(context.Background(), raw, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	for _, key := range srv.Keys() {
		if key == denylistPrefix+raw {
			t.Fatal("denylist stores the raw token")
		}
	}
	if !srv.Exists(denylistPrefix + hashToken(raw)) {
		t.Fatal("hashed denylist entry missing")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, srv := newRevocationStore(t)

	if err := store.Revoke(context.Background(), "stale.token", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("revoke expired: %v", err)
	}
	if len(srv.Keys()) != 0 {
		t.Fatalf("expired revocation wrote keys: %v", srv.Keys())
	}
}

func TestRevokeNearExpiryStillDenylists(t *testing.T) {
	now := time.Now().UTC()
	store, srv := newRevocationStore(t, WithRevocationClock(func() time.Time { return now }))
	ctx := context.Background()

	// Two seconds past expiry the token still validates through the parser
	// leeway, so the revocation must land.
	const raw = "header.payload.signature"
	if err := store.Revoke(ctx, raw, now.Add(-2*time.Second)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, err := store.IsRevoked(ctx, raw); err != nil || !ok {
		t.Fatalf("revoked near expiry = %v, %v; want revoked", ok, err)
	}
	if ttl := srv.TTL(denylistPrefix + hashToken(raw)); ttl < clockSkew-2*time.Second {
		t.Fatalf("entry ttl = %v, must cover the acceptance window", ttl)
	}
}

func TestRevokedRefreshTokenDeniedInsideLeeway(t *testing.T) {
	current := time.Now().UTC()
	clock := func() time.Time { return current }
	store, _ := newRevocationStore(t, WithRevocationClock(clock))
	svc, err := NewService(testSecret, WithRefreshTTL(time.Minute), WithClock(clock))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	ctx := context.Background()

	raw, expiresAt, err := svc.GenerateRefreshToken("alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	current = current.Add(time.Minute + 2*time.Second)
	if _, err := svc.ValidateRefresh(raw); err != nil {
		t.Fatalf("validate inside leeway: %v", err)
	}
	if err := store.Revoke(ctx, raw, expiresAt); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, err := store.IsRevoked(ctx, raw); err != nil || !ok {
		t.Fatalf("revoked = %v, %v; token escaped the denylist near expiry", ok, err)
	}
}

func TestRevocationEntryExpiresWithToken(t *testing.T) {
	store, srv := newRevocationStore(t)
	ctx := context.Background()

	const raw = "header.payload.signature"
	if err := store.Revoke(ctx, raw, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	srv.FastForward(2 * time.Minute)
	if ok, err := store.IsRevoked(ctx, raw); err != nil || ok {
		t.Fatalf("after expiry = %v, %v; want not revoked", ok, err)
	}
}
