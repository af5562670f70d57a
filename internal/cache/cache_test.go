package cache

import (
	"context"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestCacheBasicOperations(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(100), true, time.Hour, 100)

	key := MakeKey("claude-3", `[{"role":"user"}]`, nil, nil, nil)

	if _, ok := c.Get(ctx, key); ok {
		t.Fatalf("expected miss before put")
	}

	c.Put(ctx, key, []byte("test response"))

	v, ok := c.Get(ctx, key)
	if !ok || string(v) != "test response" {
		t.Fatalf("got (%q, %v)", v, ok)
	}

	if _, ok := c.Get(ctx, key); !ok {
		t.Fatalf("expected hit on second get")
	}
}

func TestCacheDisabled(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(100), false, time.Hour, 100)

	c.Put(ctx, "k", []byte("v"))

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("disabled cache should never hit")
	}
	if got := c.Stats(ctx).Entries; got != 0 {
		t.Fatalf("disabled cache should store nothing, got %d entries", got)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(3), true, time.Hour, 3)

	c.Put(ctx, "key1", []byte("r1"))
	c.Put(ctx, "key2", []byte("r2"))
	c.Put(ctx, "key3", []byte("r3"))

	if _, ok := c.Get(ctx, "key1"); !ok {
		t.Fatalf("key1 should be present")
	}

	c.Put(ctx, "key4", []byte("r4"))

	if _, ok := c.Get(ctx, "key1"); !ok {
		t.Fatalf("key1 was recently used, should survive eviction")
	}
	if _, ok := c.Get(ctx, "key2"); ok {
		t.Fatalf("key2 should have been evicted (least recently used)")
	}
	if _, ok := c.Get(ctx, "key3"); !ok {
		t.Fatalf("key3 should still be present")
	}
	if _, ok := c.Get(ctx, "key4"); !ok {
		t.Fatalf("key4 should be present")
	}
}

func TestCacheKeyGeneration(t *testing.T) {
	k1 := MakeKey("claude-3", `[{"role":"user","content":"hello"}]`, ptr("system prompt"), nil, ptr(float32(0.7)))
	k2 := MakeKey("claude-3", `[{"role":"user","content":"hello"}]`, ptr("system prompt"), nil, ptr(float32(0.7)))
	if k1 != k2 {
		t.Fatalf("identical inputs should produce identical keys")
	}

	if k3 := MakeKey("claude-4", `[{"role":"user","content":"hello"}]`, ptr("system prompt"), nil, ptr(float32(0.7))); k3 == k1 {
		t.Fatalf("different model should change the key")
	}
	if k4 := MakeKey("claude-3", `[{"role":"user","content":"goodbye"}]`, ptr("system prompt"), nil, ptr(float32(0.7))); k4 == k1 {
		t.Fatalf("different messages should change the key")
	}
	if k5 := MakeKey("claude-3", `[{"role":"user","content":"hello"}]`, ptr("system prompt"), nil, ptr(float32(0.9))); k5 == k1 {
		t.Fatalf("different temperature should change the key")
	}
	if k6 := MakeKey("claude-3", `[{"role":"user","content":"hello"}]`, ptr("different system"), nil, ptr(float32(0.7))); k6 == k1 {
		t.Fatalf("different system prompt should change the key")
	}

	if len(k1) != 64 {
		t.Fatalf("expected 64-char key, got %d", len(k1))
	}
	for _, r := range k1 {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			t.Fatalf("key contains non-hex character: %q", r)
		}
	}
}

func TestCacheStats(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(100), true, time.Hour, 100)

	stats := c.Stats(ctx)
	if !stats.Enabled || stats.Entries != 0 || stats.Hits != 0 || stats.Misses != 0 || stats.HitRate != 0 {
		t.Fatalf("unexpected initial stats: %+v", stats)
	}

	c.Put(ctx, "key1", []byte("r1"))
	c.Get(ctx, "key2") // miss

	stats = c.Stats(ctx)
	if stats.Entries != 1 || stats.Hits != 0 || stats.Misses != 1 {
		t.Fatalf("unexpected stats after miss: %+v", stats)
	}

	c.Get(ctx, "key1") // hit
	c.Get(ctx, "key1") // hit

	stats = c.Stats(ctx)
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("unexpected stats after hits: %+v", stats)
	}
	if diff := stats.HitRate - 2.0/3.0; diff > 0.001 || diff < -0.001 {
		t.Fatalf("unexpected hit rate: %v", stats.HitRate)
	}
}

func TestCacheClearKeepsCounters(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(100), true, time.Hour, 100)

	c.Put(ctx, "key1", []byte("r1"))
	c.Get(ctx, "key1")
	c.Clear(ctx)

	stats := c.Stats(ctx)
	if stats.Entries != 0 {
		t.Fatalf("expected clear to empty the store")
	}
	if stats.Hits != 1 {
		t.Fatalf("clear should not reset counters, got hits=%d", stats.Hits)
	}
}
