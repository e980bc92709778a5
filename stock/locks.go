package stock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ProductLocks gives each product its own mutual-exclusion domain.
// Operations on different products never block each other.
type ProductLocks struct {
	Timeout time.Duration

	mu    sync.Mutex
	slots map[Product]chan struct{}
}

// NewProductLocks returns locks that give up after timeout (0 = wait for ctx only).
func NewProductLocks(timeout time.Duration) *ProductLocks {
	return &ProductLocks{Timeout: timeout, slots: make(map[Product]chan struct{})}
}

func (pl *ProductLocks) slot(p Product) chan struct{} {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.slots == nil {
		pl.slots = make(map[Product]chan struct{})
	}
	ch, ok := pl.slots[p]
	if !ok {
		ch = make(chan struct{}, 1)
		pl.slots[p] = ch
	}
	return ch
}

// Acquire blocks until the product's lock is held, the timeout elapses or
// ctx is done. The returned func releases the lock.
func (pl *ProductLocks) Acquire(ctx context.Context, p Product) (func(), error) {
	ch := pl.slot(p)

	var timeout <-chan time.Time
	if pl.Timeout > 0 {
		t := time.NewTimer(pl.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-timeout:
		return nil, fmt.Errorf("lock %s after %s: %w", p, pl.Timeout, ErrConcurrentModification)
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %s: %w: %v", p, ErrConcurrentModification, ctx.Err())
	}
}
