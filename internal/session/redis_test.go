package session

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestTransport(t *testing.T, idle, maxAge time.Duration) (*RedisTransport, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := ConnectRedis(mr.Addr())
	if err != nil {
		t.Fatalf("ConnectRedis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTransport(client, idle, maxAge), mr
}

func TestRedisTransportLifecycle(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestTransport(t, time.Minute, 0)

	rec, err := store.Create(ctx, "alice", "10.0.0.1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !mr.Exists(sessionKeyPrefix + rec.ID) {
		t.Fatalf("expected key %s in redis", sessionKeyPrefix+rec.ID)
	}
	if ttl := mr.TTL(sessionKeyPrefix + rec.ID); ttl != time.Minute {
		t.Fatalf("expected idle ttl 1m, got %v", ttl)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Username != "alice" || got.IP != "10.0.0.1" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := store.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if _, err := store.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisTransportIdleExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestTransport(t, time.Minute, 0)

	rec, err := store.Create(ctx, "alice", "10.0.0.1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr.FastForward(40 * time.Second)
	if _, err := store.Get(ctx, rec.ID); err != nil {
		t.Fatalf("Get before idle timeout: %v", err)
	}
	// Get refreshed the TTL, so another 40s keeps the session alive.
	mr.FastForward(40 * time.Second)
	if _, err := store.Get(ctx, rec.ID); err != nil {
		t.Fatalf("Get after refresh: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after idle timeout, got %v", err)
	}
}

func TestRedisTransportMaxAge(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestTransport(t, time.Hour, 10*time.Minute)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	rec, err := store.Create(ctx, "alice", "10.0.0.1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now = now.Add(11 * time.Minute)
	if _, err := store.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound past max age, got %v", err)
	}
	if mr.Exists(sessionKeyPrefix + rec.ID) {
		t.Fatalf("expired record should be deleted")
	}
}

func TestRedisTransportUnavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestTransport(t, time.Minute, 0)
	mr.Close()

	if _, err := store.Create(ctx, "alice", "10.0.0.1"); err == nil {
		t.Fatalf("expected error with redis down")
	}
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping error with redis down")
	}
}
