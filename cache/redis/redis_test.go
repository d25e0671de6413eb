package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	item, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item == nil || string(item.Data) != "v" {
		t.Fatalf("want v, got %+v", item)
	}
}

func TestCache_MissReturnsNil(t *testing.T) {
	c, _ := newTestCache(t)
	item, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item != nil {
		t.Fatalf("want nil on miss, got %+v", item)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Server-side expiry.
	mr.FastForward(2 * time.Minute)
	item, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item != nil {
		t.Fatalf("want expired entry treated as miss, got %+v", item)
	}
}

func TestCache_KeysArePrefixed(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists(defaultKeyPrefix + "k") {
		t.Fatalf("want key stored under %q prefix", defaultKeyPrefix)
	}
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if item, _ := c.Get(ctx, "k"); item != nil {
		t.Fatalf("want miss after delete, got %+v", item)
	}
}
