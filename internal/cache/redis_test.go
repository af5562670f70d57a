package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "ccrouter:cache:")
}

func TestRedisStoreGetPut(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	if _, ok := store.Get(ctx, "k"); ok {
		t.Fatalf("expected miss before put")
	}

	store.Put(ctx, "k", []byte("v"), time.Minute)

	v, ok := store.Get(ctx, "k")
	if !ok || string(v) != "v" {
		t.Fatalf("got (%q, %v)", v, ok)
	}

	if got := store.Len(ctx); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}

	store.Clear(ctx)
	if got := store.Len(ctx); got != 0 {
		t.Fatalf("expected 0 entries after clear, got %d", got)
	}
}

func TestRedisStoreThroughCache(t *testing.T) {
	ctx := context.Background()
	c := New(newTestRedisStore(t), true, time.Minute, 0)

	key := MakeKey("gemini-3-flash", `[{"role":"user"}]`, nil, nil, nil)
	c.Put(ctx, key, []byte("response"))

	v, ok := c.Get(ctx, key)
	if !ok || string(v) != "response" {
		t.Fatalf("got (%q, %v)", v, ok)
	}
}
