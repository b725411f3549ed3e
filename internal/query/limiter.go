package query

import (
	"context"
	"sync"
)

// DefaultConcurrencyLimit is the maximum number of in-flight queries per
// router when no limit is configured.
const DefaultConcurrencyLimit = 16

// ConcurrencyLimiter caps the number of queries executing at once for each
// router. Engines that share a limiter share its slots, so several batches
// over the same router cannot oversubscribe the machine.
type ConcurrencyLimiter struct {
	mu    sync.Mutex
	limit int
	slots map[string]chan struct{}
}

// NewConcurrencyLimiter returns a limiter allowing limit queries per router.
// A non-positive limit selects DefaultConcurrencyLimit.
func NewConcurrencyLimiter(limit int) *ConcurrencyLimiter {
	if limit <= 0 {
		limit = DefaultConcurrencyLimit
	}
	return &ConcurrencyLimiter{
		limit: limit,
		slots: make(map[string]chan struct{}),
	}
}

// Acquire blocks until a slot for router is free or ctx is done. The returned
// release function must be called exactly once.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, router string) (release func(), err error) {
	ch := l.semaphore(router)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes a slot without blocking.
func (l *ConcurrencyLimiter) TryAcquire(router string) (release func(), ok bool) {
	ch := l.semaphore(router)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}

// ActiveCount returns the number of slots held for router.
func (l *ConcurrencyLimiter) ActiveCount(router string) int {
	l.mu.Lock()
	ch, ok := l.slots[router]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return len(ch)
}

// Limit returns the per-router limit.
func (l *ConcurrencyLimiter) Limit() int {
	return l.limit
}

func (l *ConcurrencyLimiter) semaphore(router string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[router]
	if !ok {
		ch = make(chan struct{}, l.limit)
		l.slots[router] = ch
	}
	return ch
}
