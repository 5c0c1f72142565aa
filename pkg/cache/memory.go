package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// defaultMemoryTTL applies when Set is called with a non-positive expiration.
const defaultMemoryTTL = 7 * 24 * time.Hour

type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	maxSize int
	sweep   time.Duration
}

// WithMemoryMaxSize caps the number of entries; the least recently used
// entry is evicted to make room.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithMemoryCleanup sets how often expired entries are swept.
func WithMemoryCleanup(every time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		if every > 0 {
			c.sweep = every
		}
	}
}

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// MemoryCache is an in-process LRU implementing Service. Values are kept
// encoded so readers never share memory with writers.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List // front is most recently used
	index   map[string]*list.Element

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := memoryConfig{maxSize: 1000, sweep: 5 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	mc := &MemoryCache{
		maxSize: cfg.maxSize,
		order:   list.New(),
		index:   make(map[string]*list.Element),
		stop:    make(chan struct{}),
	}
	go mc.sweepLoop(cfg.sweep)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = defaultMemoryTTL
	}
	entry := &memoryEntry{
		key:      key,
		value:    append([]byte(nil), data...),
		expireAt: time.Now().Add(expiration),
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if el, ok := mc.index[key]; ok {
		el.Value = entry
		mc.order.MoveToFront(el)
		return nil
	}
	for mc.order.Len() >= mc.maxSize {
		mc.removeLocked(mc.order.Back())
	}
	mc.index[key] = mc.order.PushFront(entry)
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	el, ok := mc.index[key]
	if !ok {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	entry := el.Value.(*memoryEntry)
	if time.Now().After(entry.expireAt) {
		mc.removeLocked(el)
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.order.MoveToFront(el)
	mc.mu.Unlock()

	return decodeValue(entry.value, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		if el, ok := mc.index[k]; ok {
			mc.removeLocked(el)
		}
	}
	return nil
}

func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for k, el := range mc.index {
		if MatchPattern(pattern, k) {
			mc.removeLocked(el)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	now := time.Now()
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		if el, ok := mc.index[k]; ok && !now.After(el.Value.(*memoryEntry).expireAt) {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.order.Len()
}

func (mc *MemoryCache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	mc.order.Remove(el)
	delete(mc.index, el.Value.(*memoryEntry).key)
}

func (mc *MemoryCache) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case now := <-t.C:
			mc.mu.Lock()
			for el := mc.order.Back(); el != nil; {
				prev := el.Prev()
				if now.After(el.Value.(*memoryEntry).expireAt) {
					mc.removeLocked(el)
				}
				el = prev
			}
			mc.mu.Unlock()
		}
	}
}

// Close stops the sweeper. Stored entries stay readable.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}
