package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances its own time whenever a caller waits on After.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func TestSixteenthCallWaitsForWindow(t *testing.T) {
	clock := newFakeClock()
	lim := New(15, time.Minute, WithClock(clock))

	stamps := make([]time.Time, 0, 20)
	for i := 0; i < 20; i++ {
		ts, err := lim.Acquire(context.Background())
		require.NoError(t, err)
		stamps = append(stamps, ts)
	}

	assert.GreaterOrEqual(t, stamps[15].Sub(stamps[0]), time.Minute)
	for i := 15; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-15]), time.Minute, "call %d", i+1)
	}
}

func TestWindowNeverHoldsMoreThanLimit(t *testing.T) {
	clock := newFakeClock()
	lim := New(3, 10*time.Second, WithClock(clock))

	var stamps []time.Time
	for i := 0; i < 12; i++ {
		ts, err := lim.Acquire(context.Background())
		require.NoError(t, err)
		stamps = append(stamps, ts)
		assert.LessOrEqual(t, lim.InFlight(), 3)
	}
	for i := range stamps {
		inWindow := 0
		for j := range stamps {
			d := stamps[i].Sub(stamps[j])
			if d >= 0 && d < 10*time.Second {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, 3, "trailing window ending at call %d", i+1)
	}
}

func TestAcquireHonoursCancellation(t *testing.T) {
	lim := New(1, time.Hour)
	_, err := lim.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lim.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, lim.InFlight())
}

func TestWaitObserverReportsBlockedTime(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration
	lim := New(1, time.Second, WithClock(clock), WithWaitObserver(func(d time.Duration) { waits = append(waits, d) }))

	for i := 0; i < 2; i++ {
		_, err := lim.Acquire(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, waits, 2)
	assert.Zero(t, waits[0])
	assert.Equal(t, time.Second, waits[1])
}

func TestDefaults(t *testing.T) {
	lim := New(0, 0)
	assert.Equal(t, DefaultLimit, lim.limit)
	assert.Equal(t, DefaultWindow, lim.window)
}
