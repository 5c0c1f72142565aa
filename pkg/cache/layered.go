package cache

import (
	"context"
	"encoding/json"
	"time"
)

type LayeredOption func(*LayeredCache)

// WithLayeredMemorySize caps the in-process layer.
func WithLayeredMemorySize(n int) LayeredOption {
	return func(lc *LayeredCache) { lc.nearSize = n }
}

// WithLayeredNearTTL bounds how long an entry may be served from the
// in-process layer before the shared layer is consulted again.
func WithLayeredNearTTL(d time.Duration) LayeredOption {
	return func(lc *LayeredCache) {
		if d > 0 {
			lc.nearTTL = d
		}
	}
}

// LayeredCache puts a small in-process LRU in front of a shared backend.
// Writes go through to the shared layer first.
type LayeredCache struct {
	near     *MemoryCache
	far      Service
	nearSize int
	nearTTL  time.Duration
}

func NewLayeredCache(far Service, opts ...LayeredOption) *LayeredCache {
	lc := &LayeredCache{far: far, nearSize: 1000, nearTTL: time.Minute}
	for _, opt := range opts {
		opt(lc)
	}
	lc.near = NewMemoryCache(WithMemoryMaxSize(lc.nearSize))
	return lc
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.far.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	ttl := lc.nearTTL
	if expiration > 0 && expiration < ttl {
		ttl = expiration
	}
	return lc.near.Set(ctx, key, value, ttl)
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.near.Get(ctx, key, dest); err == nil {
		return nil
	}

	// raw so the bytes can be promoted unchanged
	var raw json.RawMessage
	if err := lc.far.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.near.Set(ctx, key, raw, lc.nearTTL)
	return decodeValue(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.near.Delete(ctx, keys...)
	return lc.far.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.near.DeleteByPattern(ctx, pattern)
	return lc.far.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.near.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.far.Exists(ctx, keys...)
}

func (lc *LayeredCache) Close() error {
	_ = lc.near.Close()
	return lc.far.Close()
}
