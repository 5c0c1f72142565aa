package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMutationQueueSerializes(t *testing.T) {
	q := NewMutationQueue()
	var inFlight, maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := q.Acquire(context.Background(), "ens")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max in-flight = %d, want 1", maxSeen)
	}
}

func TestMutationQueueKeysAreIndependent(t *testing.T) {
	q := NewMutationQueue()
	release, _ := q.Acquire(context.Background(), "a")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := q.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("other key blocked: %v", err)
	}
	other()
}

func TestMutationQueueAcquireHonoursCancel(t *testing.T) {
	q := NewMutationQueue()
	release, _ := q.Acquire(context.Background(), "ens")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Acquire(ctx, "ens"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	release()
	release() // second call is a no-op
	next, err := q.Acquire(context.Background(), "ens")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	next()
}
