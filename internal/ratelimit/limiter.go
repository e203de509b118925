package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Limiter spaces out outbound requests process-wide. Every grant is separated from the
// previous one by a random delay drawn from [min, max].
type Limiter struct {
	min, max time.Duration

	mu      sync.Mutex
	last    time.Time
	granted bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	delay func() time.Duration
}

func NewLimiter(min, max time.Duration) *Limiter {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	l := &Limiter{min: min, max: max, now: time.Now, sleep: Sleep}
	l.delay = l.randomDelay
	return l
}

// Acquire blocks until the caller may send its request. The slot is reserved under the
// lock and waited for outside of it, so concurrent callers queue up behind each other.
func (l *Limiter) Acquire(ctx context.Context) error {
	wait := l.reserve().Sub(l.now())
	if wait <= 0 {
		return ctx.Err()
	}
	return l.sleep(ctx, wait)
}

func (l *Limiter) reserve() time.Time {
	delay := l.delay()

	l.mu.Lock()
	defer l.mu.Unlock()

	slot := l.now()
	if l.granted {
		if next := l.last.Add(delay); next.After(slot) {
			slot = next
		}
	}
	l.last = slot
	l.granted = true
	return slot
}

func (l *Limiter) randomDelay() time.Duration {
	if l.max == l.min {
		return l.min
	}
	return l.min + rand.N(l.max-l.min+1)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
