package cache

import (
	"context"
	"time"
)

// BytesCache is a byte-oriented key/value cache with TTL.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// MultiGetter is implemented by caches that can fetch a batch in one round
// trip. Missing keys are absent from the result map.
type MultiGetter interface {
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
}
