package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kari-ai/kari-core/internal/domain"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k1", "v1", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	val, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "v1" {
		t.Errorf("expected v1, got %q", val)
	}

	if ttl := mr.TTL("k1"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected a TTL within a minute, got %v", ttl)
	}
}

func TestRedisCache_MissingKey(t *testing.T) {
	c, _ := newTestCache(t)

	if _, err := c.Get(context.Background(), "absent"); err != domain.ErrKeyNotFound {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestRedisCache_ScanPrefix(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"pre:a", "pre:b", "other:c"} {
		if err := c.Set(ctx, k, "x", time.Minute); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	keys, err := c.Scan(ctx, "pre:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under the prefix, got %v", keys)
	}
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k1", "v1", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k1"); err != domain.ErrKeyNotFound {
		t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestRedisCache_Health(t *testing.T) {
	c, mr := newTestCache(t)

	if h := c.Health(context.Background()); !h.OK {
		t.Errorf("expected healthy, got %+v", h)
	}

	mr.Close()
	if h := c.Health(context.Background()); h.OK {
		t.Error("expected unhealthy after the backend went away")
	}
}
