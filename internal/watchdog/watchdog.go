// Package watchdog bounds the wall-clock time of one task attempt.
package watchdog

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
)

const (
	DefaultDeadline = 165 * time.Second
	// DefaultGrace is how long an expired unit gets to observe cancellation
	// before the watchdog stops waiting for it.
	DefaultGrace = 250 * time.Millisecond
	// MaxGrace caps Grace so expiry is reported within a second of the deadline.
	MaxGrace = 500 * time.Millisecond
)

// Watchdog races a unit of work against a deadline. Grace zero means Run
// returns as soon as the deadline fires; a unit that ignores cancellation then
// finishes in the background.
type Watchdog struct {
	Deadline  time.Duration
	Grace     time.Duration
	Logger    *log.Logger
	OnTimeout func(elapsed time.Duration)
}

// New returns a watchdog with the given deadline (165s when non-positive).
func New(deadline time.Duration, logger *log.Logger) *Watchdog {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Watchdog{Deadline: deadline, Grace: DefaultGrace, Logger: logger}
}

// Run executes unit with a context that is cancelled when the deadline passes.
// If the deadline wins it returns failure.TaskTimeout; cancellation of the parent
// context is returned as-is.
func Run[T any](parent context.Context, w *Watchdog, unit func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if w == nil {
		w = New(0, nil)
	}
	deadline := w.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	ctx, cancel := context.WithTimeout(parent, deadline)
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		v, err := unit(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && parent.Err() == nil && ctx.Err() != nil {
			return zero, w.expired(time.Since(start), deadline)
		}
		return res.val, res.err
	case <-ctx.Done():
		elapsed := time.Since(start)
		cancel()
		drain(done, w.grace(), w.Logger)
		if err := parent.Err(); err != nil {
			return zero, err
		}
		return zero, w.expired(elapsed, deadline)
	}
}

func (w *Watchdog) expired(elapsed, deadline time.Duration) error {
	if w.OnTimeout != nil {
		w.OnTimeout(elapsed)
	}
	if w.Logger != nil {
		w.Logger.Printf("watchdog fired after %s (deadline %s)", elapsed.Round(time.Millisecond), deadline)
	}
	return failure.TaskTimeout{Deadline: deadline, Elapsed: elapsed}
}

type outcome[T any] struct {
	val T
	err error
}

func (w *Watchdog) grace() time.Duration {
	switch {
	case w.Grace <= 0:
		return 0
	case w.Grace > MaxGrace:
		return MaxGrace
	}
	return w.Grace
}

// drain waits up to grace for the cancelled unit to return so its sockets and
// browser processes are released before the next attempt starts.
func drain[T any](done <-chan outcome[T], grace time.Duration, logger *log.Logger) {
	if grace <= 0 {
		return
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		if logger != nil {
			logger.Printf("watchdog: unit ignored cancellation for %s", grace)
		}
	}
}
