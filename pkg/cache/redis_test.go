package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"
)

// Runs against a real server only when REDIS_TEST_HOST is set.
func newTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	host := os.Getenv("REDIS_TEST_HOST")
	if host == "" {
		t.Skip("REDIS_TEST_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("REDIS_TEST_PORT"))
	rc, err := NewRedisCache(context.Background(), RedisConfig{
		Host:   host,
		Port:   port,
		Prefix: fmt.Sprintf("signaldesk-test-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = rc.DeleteByPattern(context.Background(), "*")
		_ = rc.Close()
	})
	return rc
}

func TestRedisCacheRoundTripAndPatternDelete(t *testing.T) {
	rc := newTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"ns:a:1d", "ns:a:1h", "ns:b:1d"} {
		if err := rc.Set(ctx, k, payload{Name: k}, time.Minute); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	var out payload
	if err := rc.Get(ctx, "ns:a:1d", &out); err != nil || out.Name != "ns:a:1d" {
		t.Fatalf("get = %+v, %v", out, err)
	}

	if err := rc.DeleteByPattern(ctx, "ns:a:*"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := rc.Get(ctx, "ns:a:1h", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if ok, _ := rc.Exists(ctx, "ns:b:1d"); !ok {
		t.Fatalf("unrelated key removed")
	}
}
