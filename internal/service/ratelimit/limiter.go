package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key. Buckets idle longer than idleTTL
// are dropped on the next sweep.
type Limiter struct {
	mu        sync.Mutex
	m         map[string]*bucket
	idleTTL   time.Duration
	lastSweep time.Time
}

func New() *Limiter {
	return &Limiter{m: make(map[string]*bucket), idleTTL: 10 * time.Minute, lastSweep: time.Now()}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		burst := int(capacity)
		if burst < 1 {
			burst = 1
		}
		b = &bucket{lim: rate.NewLimiter(rate.Limit(refillPerSec), burst)}
		l.m[key] = b
	}
	b.lastSeen = now

	if now.Sub(l.lastSweep) > l.idleTTL {
		l.sweep(now)
	}
	return b.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *Limiter) sweep(now time.Time) {
	for k, b := range l.m {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.m, k)
		}
	}
	l.lastSweep = now
}
