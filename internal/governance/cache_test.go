package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryCache_SetGet(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	snap := &MaturitySnapshot{Status: "SUPERVISED", Confidence: 0.8, CachedAt: time.Now()}
	if err := cache.Set(ctx, "ws1", "agent-1", snap, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, hit, err := cache.Get(ctx, "ws1", "agent-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !hit {
		t.Fatal("Get() miss, want hit")
	}
	if got.Status != "SUPERVISED" || got.Confidence != 0.8 {
		t.Errorf("Get() = %+v, want status SUPERVISED confidence 0.8", got)
	}
}

func TestMemoryCache_Miss(t *testing.T) {
	cache := NewMemoryCache(0)

	_, hit, err := cache.Get(context.Background(), "ws1", "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if hit {
		t.Error("Get() hit for missing key")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	snap := &MaturitySnapshot{Status: "", Confidence: 0.4}
	if err := cache.Set(ctx, "ws1", "agent-1", snap, 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	_, hit, _ := cache.Get(ctx, "ws1", "agent-1")
	if hit {
		t.Error("Get() hit after TTL expiry")
	}
}

func TestMemoryCache_KeysAreWorkspaceScoped(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	snap := &MaturitySnapshot{Confidence: 0.6}
	if err := cache.Set(ctx, "ws1", "agent-1", snap, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, hit, _ := cache.Get(ctx, "ws2", "agent-1")
	if hit {
		t.Error("Get() hit across workspaces")
	}
}

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewRedisCache(client), srv
}

func TestRedisCache_SetGet(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	ctx := context.Background()

	snap := &MaturitySnapshot{Status: "AUTONOMOUS", Confidence: 0.95, CachedAt: time.Now().UTC()}
	if err := cache.Set(ctx, "ws1", "agent-1", snap, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, hit, err := cache.Get(ctx, "ws1", "agent-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !hit {
		t.Fatal("Get() miss after Set")
	}
	if got.Status != "AUTONOMOUS" || got.Confidence != 0.95 {
		t.Errorf("Get() = %+v", got)
	}
}

func TestRedisCache_TTL(t *testing.T) {
	cache, srv := newTestRedisCache(t)
	ctx := context.Background()

	snap := &MaturitySnapshot{Confidence: 0.6}
	if err := cache.Set(ctx, "ws1", "agent-1", snap, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// miniredis lets us advance the clock past the TTL.
	srv.FastForward(6 * time.Minute)

	_, hit, _ := cache.Get(ctx, "ws1", "agent-1")
	if hit {
		t.Error("Get() hit after TTL elapsed")
	}
}

func TestRedisCache_BackendDownDegradesToMiss(t *testing.T) {
	cache, srv := newTestRedisCache(t)
	srv.Close()

	_, hit, err := cache.Get(context.Background(), "ws1", "agent-1")
	if hit {
		t.Error("Get() reported hit with backend down")
	}
	if err == nil {
		t.Fatal("Get() error = nil with backend down, want CacheError")
	}
	var cacheErr *CacheError
	if !errors.As(err, &cacheErr) {
		t.Errorf("Get() error = %T, want *CacheError", err)
	}
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	cache, srv := newTestRedisCache(t)

	srv.Set(cacheKey("ws1", "agent-1"), "not-json")

	_, hit, err := cache.Get(context.Background(), "ws1", "agent-1")
	if err != nil {
		t.Fatalf("Get() error = %v, want nil for corrupt entry", err)
	}
	if hit {
		t.Error("Get() hit for corrupt entry")
	}
}
