package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/cache"
	"SignalDesk/pkg/metrics"

	"github.com/google/uuid"
)

const keyTimeLayout = "20060102T150405"

// CacheKey identifies one computed payload.
type CacheKey struct {
	StrategyID string
	Timeframe  string
	Start      *time.Time
	End        *time.Time
	Kind       string
	Variant    string
}

// NewCacheKey builds a key for strategyID under window w.
func NewCacheKey(strategyID string, w models.Window, kind, variant string) CacheKey {
	return CacheKey{
		StrategyID: strategyID,
		Timeframe:  w.Timeframe,
		Start:      w.Start,
		End:        w.End,
		Kind:       kind,
		Variant:    variant,
	}
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		k.StrategyID, k.Timeframe, keyTime(k.Start), keyTime(k.End), k.Kind, k.Variant)
}

func keyTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(keyTimeLayout)
}

// escapeGlob quotes glob metacharacters so an id can be used in a pattern.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ticket is handed out by Begin and checked by PutIfCurrent.
type Ticket struct {
	epoch uint64
	gen   uint64
}

// SignalCache holds computed signal and plot payloads for one engine.
// Every key lives under a per-instance namespace so caches sharing a
// backend never see each other's entries.
type SignalCache struct {
	store   cache.Service
	ns      string
	ttl     time.Duration
	metrics repository.Metrics

	mu    sync.Mutex
	epoch uint64
	gens  map[string]map[string]uint64
}

// SignalCacheOption configures SignalCache.
type SignalCacheOption func(*SignalCache)

// WithCacheTTL sets the expiration of stored payloads.
func WithCacheTTL(ttl time.Duration) SignalCacheOption {
	return func(c *SignalCache) { c.ttl = ttl }
}

// WithCacheMetrics records hits, misses and stale discards.
func WithCacheMetrics(m repository.Metrics) SignalCacheOption {
	return func(c *SignalCache) { c.metrics = m }
}

// WithNamespace pins the key namespace instead of a random one.
func WithNamespace(ns string) SignalCacheOption {
	return func(c *SignalCache) { c.ns = ns }
}

func NewSignalCache(store cache.Service, opts ...SignalCacheOption) *SignalCache {
	c := &SignalCache{
		store:   store,
		ns:      uuid.NewString(),
		ttl:     30 * time.Minute,
		metrics: metrics.Nop{},
		gens:    make(map[string]map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Namespace returns the key prefix owned by this cache.
func (c *SignalCache) Namespace() string { return c.ns }

func (c *SignalCache) fullKey(k CacheKey) string {
	return c.ns + ":" + k.String()
}

// Get returns the payload stored under k. A miss is ok=false with a nil error.
func (c *SignalCache) Get(ctx context.Context, k CacheKey) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	if err := c.store.Get(ctx, c.fullKey(k), &raw); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			c.metrics.RecordCache("miss")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("signal cache get: %w", err)
	}
	c.metrics.RecordCache("hit")
	return raw, true, nil
}

// Put stores payload under k unconditionally.
func (c *SignalCache) Put(ctx context.Context, k CacheKey, payload json.RawMessage) error {
	if err := c.store.Set(ctx, c.fullKey(k), payload, c.ttl); err != nil {
		return fmt.Errorf("signal cache put: %w", err)
	}
	return nil
}

// Begin starts a request for k and returns its ticket. Any earlier ticket
// for the same strategy and timeframe becomes stale.
func (c *SignalCache) Begin(k CacheKey) Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	tfs, ok := c.gens[k.StrategyID]
	if !ok {
		tfs = make(map[string]uint64)
		c.gens[k.StrategyID] = tfs
	}
	tfs[k.Timeframe]++
	return Ticket{epoch: c.epoch, gen: tfs[k.Timeframe]}
}

func (c *SignalCache) current(k CacheKey, t Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return t.epoch == c.epoch && c.gens[k.StrategyID][k.Timeframe] == t.gen
}

// PutIfCurrent stores payload only if t is still the newest ticket for k.
// It reports whether the payload was kept.
func (c *SignalCache) PutIfCurrent(ctx context.Context, k CacheKey, t Ticket, payload json.RawMessage) (bool, error) {
	if !c.current(k, t) {
		c.metrics.RecordCache("stale")
		return false, nil
	}
	if err := c.Put(ctx, k, payload); err != nil {
		return false, err
	}
	// lost a race with Invalidate or Clear while writing
	if !c.current(k, t) {
		c.metrics.RecordCache("stale")
		return false, c.store.Delete(ctx, c.fullKey(k))
	}
	return true, nil
}

// Invalidate drops every entry of strategyID and stales its in-flight tickets.
// Entries of ids that merely share a textual prefix are kept.
func (c *SignalCache) Invalidate(ctx context.Context, strategyID string) error {
	c.mu.Lock()
	for tf := range c.gens[strategyID] {
		c.gens[strategyID][tf]++
	}
	c.mu.Unlock()

	pattern := cache.BuildPattern(c.ns + ":" + escapeGlob(strategyID) + ":")
	if err := c.store.DeleteByPattern(ctx, pattern); err != nil {
		return fmt.Errorf("signal cache invalidate %s: %w", strategyID, err)
	}
	return nil
}

// Clear drops every entry of this cache and stales all in-flight tickets.
func (c *SignalCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	if err := c.store.DeleteByPattern(ctx, cache.BuildPattern(c.ns+":")); err != nil {
		return fmt.Errorf("signal cache clear: %w", err)
	}
	return nil
}
