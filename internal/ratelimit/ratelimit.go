// Package ratelimit implements the sliding-window gate placed in front of every
// inference call.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultLimit  = 15
	DefaultWindow = time.Minute
)

// Clock abstracts time so tests can drive the window deterministically.
// Implementations must return times carrying a monotonic reading.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Limiter admits at most limit calls in any trailing window.
type Limiter struct {
	limit  int
	window time.Duration
	clock  Clock
	onWait func(time.Duration)

	mu    sync.Mutex
	calls []time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithWaitObserver registers a callback receiving the time each Acquire spent blocked.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

// New builds a limiter. Non-positive arguments fall back to 15 calls per minute.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		clock:  systemClock{},
		calls:  make([]time.Time, 0, limit),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until one more call fits in the window, records it and returns
// the recorded timestamp. It only fails when ctx is done while waiting.
func (l *Limiter) Acquire(ctx context.Context) (time.Time, error) {
	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.evict(now)
		if len(l.calls) < l.limit {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			if l.onWait != nil {
				l.onWait(waited)
			}
			return now, nil
		}
		wait := l.calls[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		start := l.clock.Now()
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-l.clock.After(wait):
		}
		waited += l.clock.Now().Sub(start)
	}
}

// InFlight returns how many calls are currently recorded in the trailing window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.clock.Now())
	return len(l.calls)
}

// evict drops timestamps that have left the window; caller holds mu.
func (l *Limiter) evict(now time.Time) {
	cut := 0
	for cut < len(l.calls) && now.Sub(l.calls[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.calls = append(l.calls[:0], l.calls[cut:]...)
	}
}
