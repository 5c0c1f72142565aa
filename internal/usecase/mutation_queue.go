package usecase

import (
	"context"
	"sync"
)

// MutationQueue admits one in-flight mutating call per key. Waiters are
// served in arrival order and give up when their context ends.
type MutationQueue struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMutationQueue() *MutationQueue {
	return &MutationQueue{slots: make(map[string]chan struct{})}
}

func (q *MutationQueue) slot(key string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		q.slots[key] = ch
	}
	return ch
}

// Acquire blocks until key is free. The returned release must be called
// exactly once.
func (q *MutationQueue) Acquire(ctx context.Context, key string) (func(), error) {
	ch := q.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}
