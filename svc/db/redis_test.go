package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("bad REDIS_TEST_URL: %v", err)
	}
	r, err := newRedis(redis.NewClient(opt), time.Second)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestEdgeKey(t *testing.T) {
	if got := edgeKey("owned", "https://pobb.in/u/alice"); got != "edge:owned:https://pobb.in/u/alice" {
		t.Errorf("edgeKey() = %q", got)
	}
}

func TestRedisBackend(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()
	key := "https://pobb.in/test-" + time.Now().Format(time.RFC3339Nano)

	if v, err := r.Get(ctx, "default", key); err != nil || v != nil {
		t.Fatalf("expected miss, got %q, %v", v, err)
	}
	if err := r.Set(ctx, "default", key, []byte("entry"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := r.Get(ctx, "owned", key); v != nil {
		t.Error("tiers must not share keys")
	}
	v, err := r.Get(ctx, "default", key)
	if err != nil || string(v) != "entry" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	if err := r.Delete(ctx, "default", key, key+"-missing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if v, _ := r.Get(ctx, "default", key); v != nil {
		t.Error("key survived delete")
	}
	if err := r.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
