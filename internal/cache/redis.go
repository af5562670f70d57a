package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore is an optional Store backend (cache.backend: "redis" in
// config) for operators running more than one ccrouter process against the
// same account fleet. LRU eviction is delegated to Redis's own key
// expiration rather than replicated client-side; Len/Clear scan keys under
// the configured prefix.
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing *redis.Client as a Store. prefix namespaces
// keys so the cache can share a Redis instance with other consumers.
func NewRedisStore(client *redis.Client, prefix string) Store {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) key(k string) string { return s.prefix + k }

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	s.client.Set(ctx, s.key(key), value, ttl)
}

func (s *redisStore) Len(ctx context.Context) int {
	var cursor uint64
	var count int
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return count
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count
}

func (s *redisStore) Clear(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}
