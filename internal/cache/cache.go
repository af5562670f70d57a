// Package cache implements the response cache (component B): an LRU+TTL map
// from request fingerprint to completed response body, used only for
// non-streaming requests.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// Stats describes cache usage, mirroring the JSON shape exposed on
// GET /cache/stats.
type Stats struct {
	Enabled    bool    `json:"enabled"`
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// Store is the pluggable backing store for the response cache. The default
// implementation (NewMemoryStore) is an in-process LRU+TTL map; an optional
// Redis-backed implementation (NewRedisStore) exists for operators running
// more than one ccrouter process against the same account fleet.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration)
	Len(ctx context.Context) int
	Clear(ctx context.Context)
}

// Cache is the response cache. Hit/miss counters live here (not in Store) so
// they're tracked uniformly regardless of which backend is configured.
type Cache struct {
	store      Store
	enabled    bool
	maxEntries int
	ttl        time.Duration

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// New constructs a response cache around store. ttl is the default entry
// lifetime; maxEntries is reported in Stats (the store itself enforces
// capacity).
func New(store Store, enabled bool, ttl time.Duration, maxEntries int) *Cache {
	return &Cache{store: store, enabled: enabled, ttl: ttl, maxEntries: maxEntries}
}

// MakeKey generates a deterministic 64-hex-char cache key from request
// parameters. Each component is hashed even when absent so that two requests
// differing only in whether a field was present never collide.
func MakeKey(model, messagesJSON string, systemJSON, toolsJSON *string, temperature *float32) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{'|'})
	h.Write([]byte(messagesJSON))
	h.Write([]byte{'|'})
	if systemJSON != nil {
		h.Write([]byte(*systemJSON))
	}
	h.Write([]byte{'|'})
	if toolsJSON != nil {
		h.Write([]byte(*toolsJSON))
	}
	h.Write([]byte{'|'})
	if temperature != nil {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(*temperature))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response for key, or (nil, false) when disabled,
// absent, or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		c.misses++
		return nil, false
	}

	v, ok := c.store.Get(ctx, key)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return v, true
}

// Put stores value under key. No-op when the cache is disabled.
func (c *Cache) Put(ctx context.Context, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}
	c.store.Put(ctx, key, value, c.ttl)
}

// Stats reports current cache usage.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Enabled:    c.enabled,
		Entries:    c.store.Len(ctx),
		MaxEntries: c.maxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    hitRate,
	}
}

// Clear empties the cache. Hit/miss counters are left unchanged.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Clear(ctx)
}
