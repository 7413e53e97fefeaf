// Package ratelimit throttles requests to upstream resources with token
// buckets.
//
//	limiter := ratelimit.NewLimiter()
//	limiter.SetCapacity("venice", 60, time.Minute) // 60 requests per minute
//
//	if err := limiter.Acquire(ctx, "venice"); err != nil {
//	    return err // context ended while waiting
//	}
//	defer limiter.Release("venice")
//
// Tokens refill continuously at capacity/window. After an upstream 429,
// Reduce lowers the capacity so later requests back off.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/textcall/errors"
)

// Capacity describes the limit configured for a resource.
type Capacity struct {
	Resource  string
	Available int
	Total     int
	Window    time.Duration
	InFlight  int
}

type bucket struct {
	capacity   int
	available  int
	window     time.Duration
	lastRefill time.Time
	inFlight   int
}

// interval is the time it takes to refill one token.
func (b *bucket) interval() time.Duration {
	return b.window / time.Duration(b.capacity)
}

// refill adds the tokens earned since the last refill, keeping any
// partial progress toward the next one.
func (b *bucket) refill(now time.Time) {
	if b.available >= b.capacity {
		b.lastRefill = now
		return
	}
	per := b.interval()
	if per <= 0 {
		b.available = b.capacity
		b.lastRefill = now
		return
	}
	earned := int(now.Sub(b.lastRefill) / per)
	if earned <= 0 {
		return
	}
	b.available += earned
	b.lastRefill = b.lastRefill.Add(time.Duration(earned) * per)
	if b.available >= b.capacity {
		b.available = b.capacity
		b.lastRefill = now
	}
}

// untilNext returns how long until the next token is earned.
func (b *bucket) untilNext(now time.Time) time.Duration {
	d := b.lastRefill.Add(b.interval()).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Limiter is an in-process token bucket limiter keyed by resource name.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	changed chan struct{} // closed and replaced whenever limits change
	now     func() time.Time
}

// NewLimiter creates a limiter with no configured resources.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// SetCapacity allows capacity requests per window for resource. A
// non-positive capacity or window removes the limit.
func (l *Limiter) SetCapacity(resource string, capacity int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	defer l.broadcast()

	if capacity <= 0 || window <= 0 {
		delete(l.buckets, resource)
		return
	}
	if b, ok := l.buckets[resource]; ok {
		b.refill(l.now())
		b.capacity = capacity
		b.window = window
		if b.available > capacity {
			b.available = capacity
		}
		return
	}
	l.buckets[resource] = &bucket{
		capacity:   capacity,
		available:  capacity,
		window:     window,
		lastRefill: l.now(),
	}
}

// GetCapacity returns the current state of resource, or nil when it has no
// limit.
func (l *Limiter) GetCapacity(resource string) *Capacity {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok {
		return nil
	}
	b.refill(l.now())
	return &Capacity{
		Resource:  resource,
		Available: b.available,
		Total:     b.capacity,
		Window:    b.window,
		InFlight:  b.inFlight,
	}
}

// TryAcquire takes a token without waiting. Resources without a limit
// always succeed.
func (l *Limiter) TryAcquire(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, _, _ := l.take(resource)
	return ok
}

// Acquire waits until a token for resource is available or ctx ends.
// Resources without a limit never wait.
func (l *Limiter) Acquire(ctx context.Context, resource string) error {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return errors.New(errors.ErrCodeUnavailable, "rate limiter closed")
		}
		ok, wait, changed := l.take(resource)
		l.mu.Unlock()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "waiting for %s rate limit", resource)
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// take must be called with l.mu held. When no token is available it
// returns the wait until the next one.
func (l *Limiter) take(resource string) (bool, time.Duration, <-chan struct{}) {
	if l.closed {
		return false, 0, l.changed
	}
	b, ok := l.buckets[resource]
	if !ok {
		return true, 0, nil
	}
	now := l.now()
	b.refill(now)
	if b.available > 0 {
		b.available--
		b.inFlight++
		return true, 0, nil
	}
	return false, b.untilNext(now), l.changed
}

// Release marks a request as finished. Tokens are only returned by refill.
func (l *Limiter) Release(resource string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[resource]; ok && b.inFlight > 0 {
		b.inFlight--
	}
}

// Reduce lowers the capacity of resource by a quarter, to at least one, and
// returns the new capacity. It returns 0 for resources without a limit.
func (l *Limiter) Reduce(resource string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok {
		return 0
	}
	b.refill(l.now())
	b.capacity = b.capacity * 3 / 4
	if b.capacity < 1 {
		b.capacity = 1
	}
	if b.available > b.capacity {
		b.available = b.capacity
	}
	return b.capacity
}

// Close wakes all waiters; later Acquire calls fail.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.broadcast()
	return nil
}

func (l *Limiter) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}
