package authn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, srv
}

func TestRedisLeaseMutualExclusion(t *testing.T) {
	client, _ := newRedisClient(t)
	lease := NewRedisLease(client)
	ctx := context.Background()

	ok, err := lease.Acquire(ctx, "register:username:bob", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v; want granted", ok, err)
	}
	// A second holder is refused without error.
	ok, err = lease.Acquire(ctx, "register:username:bob", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire = %v, %v; want busy", ok, err)
	}
	// An unrelated key is independent.
	ok, err = lease.Acquire(ctx, "register:username:carol", time.Minute)
	if err != nil || !ok {
		t.Fatalf("other key acquire = %v, %v; want granted", ok, err)
	}

	if err := lease.Release(ctx, "register:username:bob"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = lease.Acquire(ctx, "register:username:bob", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v; want granted", ok, err)
	}
}

func TestRedisLeaseExpires(t *testing.T) {
	client, srv := newRedisClient(t)
	lease := NewRedisLease(client)
	ctx := context.Background()

	if ok, err := lease.Acquire(ctx, "register:email:a@b.com", time.Second); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	srv.FastForward(2 * time.Second)

	// Expiry frees a crashed holder's lease.
	if ok, err := lease.Acquire(ctx, "register:email:a@b.com", time.Second); err != nil || !ok {
		t.Fatalf("acquire after expiry = %v, %v; want granted", ok, err)
	}
}

func TestRedisLeaseReleaseIdempotent(t *testing.T) {
	client, _ := newRedisClient(t)
	lease := NewRedisLease(client)
	ctx := context.Background()

	if err := lease.Release(ctx, "never-held"); err != nil {
		t.Fatalf("release absent: %v", err)
	}
	if ok, _ := lease.Acquire(ctx, "k", time.Minute); !ok {
		t.Fatal("acquire")
	}
	if err := lease.Release(ctx, "k"); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := lease.Release(ctx, "k"); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestRedisCodeStore(t *testing.T) {
	client, srv := newRedisClient(t)
	codes := NewRedisCodeStore(client)
	ctx := context.Background()

	if _, ok, err := codes.Get(ctx, "alice@example.com"); err != nil || ok {
		t.Fatalf("empty get = %v, %v; want miss", ok, err)
	}

	if err := codes.Set(ctx, "alice@example.com", "123456", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	code, ok, err := codes.Get(ctx, "alice@example.com")
	if err != nil || !ok || code != "123456" {
		t.Fatalf("get = %q, %v, %v", code, ok, err)
	}

	if err := codes.Delete(ctx, "alice@example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := codes.Get(ctx, "alice@example.com"); ok {
		t.Fatal("code survived delete")
	}

	// Unused codes expire on their own.
	if err := codes.Set(ctx, "bob@example.com", "654321", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	srv.FastForward(2 * time.Minute)
	if _, ok, _ := codes.Get(ctx, "bob@example.com"); ok {
		t.Fatal("code survived TTL")
	}
}
