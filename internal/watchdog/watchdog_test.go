package watchdog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
)

func TestRunReturnsResultBeforeDeadline(t *testing.T) {
	w := New(time.Second, nil)
	got, err := Run(context.Background(), w, func(ctx context.Context) (string, error) {
		return "4", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "4" {
		t.Fatalf("expected 4, got %q", got)
	}
}

func TestRunPropagatesUnitError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), New(time.Second, nil), func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestRunAbortsHungUnitWithinSlack(t *testing.T) {
	const deadline = 100 * time.Millisecond
	var fired atomic.Int32
	w := New(deadline, nil)
	w.OnTimeout = func(time.Duration) { fired.Add(1) }

	cancelled := make(chan struct{})
	start := time.Now()
	_, err := Run(context.Background(), w, func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		close(cancelled)
		return struct{}{}, ctx.Err()
	})
	elapsed := time.Since(start)

	var timeout failure.TaskTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TaskTimeout, got %v", err)
	}
	if timeout.Deadline != deadline {
		t.Fatalf("expected deadline %s, got %s", deadline, timeout.Deadline)
	}
	if elapsed >= deadline+time.Second {
		t.Fatalf("watchdog returned after %s", elapsed)
	}
	if fired.Load() != 1 {
		t.Fatalf("expected OnTimeout once, got %d", fired.Load())
	}
	select {
	case <-cancelled:
	default:
		t.Fatalf("cancellation did not reach the unit")
	}
}

func TestRunDoesNotWaitForUnitIgnoringCancellation(t *testing.T) {
	const deadline = 200 * time.Millisecond
	block := make(chan struct{})
	defer close(block)

	for _, grace := range []time.Duration{0, DefaultGrace, 10 * time.Second} {
		w := New(deadline, nil)
		w.Grace = grace
		start := time.Now()
		_, err := Run(context.Background(), w, func(context.Context) (int, error) {
			<-block
			return 0, nil
		})
		elapsed := time.Since(start)

		if !failure.IsTimeout(err) {
			t.Fatalf("grace %s: expected timeout, got %v", grace, err)
		}
		if overshoot := elapsed - deadline; overshoot >= time.Second {
			t.Fatalf("grace %s: returned %s past the deadline", grace, overshoot)
		}
	}
}

func TestGraceBounds(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		-time.Second:     0,
		0:                0,
		DefaultGrace:     DefaultGrace,
		10 * time.Second: MaxGrace,
	}
	for in, want := range cases {
		if got := (&Watchdog{Grace: in}).grace(); got != want {
			t.Errorf("grace(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestRunParentCancellationIsNotATimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Run(ctx, New(time.Minute, nil), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if failure.IsTimeout(err) {
		t.Fatalf("parent cancellation must not be reported as a timeout")
	}
}

func TestRepeatedTimeoutsReleaseHTTPCalls(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client := &http.Client{Transport: &http.Transport{}}
	defer client.CloseIdleConnections()

	baseline := runtime.NumGoroutine()
	w := New(5*time.Millisecond, nil)
	w.Grace = MaxGrace
	for i := 0; i < 100; i++ {
		_, err := Run(context.Background(), w, func(ctx context.Context) (int, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
			if err != nil {
				return 0, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return 0, err
			}
			defer resp.Body.Close()
			return resp.StatusCode, nil
		})
		if !failure.IsTimeout(err) {
			t.Fatalf("cycle %d: expected timeout, got %v", i, err)
		}
	}

	client.CloseIdleConnections()
	deadline := time.Now().Add(3 * time.Second)
	for runtime.NumGoroutine() > baseline+10 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > baseline+10 {
		t.Fatalf("goroutines leaked: baseline %d, now %d", baseline, n)
	}
}
