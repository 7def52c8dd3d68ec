// Package telemetry owns the prometheus collectors and the tracer used by a quiz run.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const ServiceName = "quizrunner"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	tasks             *prometheus.CounterVec
	runs              *prometheus.CounterVec
	inferenceAttempts *prometheus.CounterVec
	submissions       *prometheus.CounterVec
	mediaFailures     prometheus.Counter
	watchdogTimeouts  prometheus.Counter
	rateLimitWait     prometheus.Histogram
	taskDuration      prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry so tests and
// multiple runners never collide on the global one.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_state_transitions_total",
			Help: "Orchestration state transitions by target state.",
		}, []string{"state"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_tasks_total",
			Help: "Task attempts by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_runs_total",
			Help: "Finished runs by terminal state.",
		}, []string{"result"}),
		inferenceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_inference_attempts_total",
			Help: "Inference provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_submissions_total",
			Help: "Answer submissions by verdict.",
		}, []string{"verdict"}),
		mediaFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_media_unavailable_total",
			Help: "Media references that could not be retrieved.",
		}),
		watchdogTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_watchdog_timeouts_total",
			Help: "Task attempts aborted by the watchdog.",
		}),
		rateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_ratelimit_wait_seconds",
			Help:    "Time spent blocked in the inference rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_task_duration_seconds",
			Help:    "Wall-clock duration of task attempts.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 165, 300},
		}),
	}
	m.registry.MustRegister(
		m.transitions, m.tasks, m.runs, m.inferenceAttempts, m.submissions,
		m.mediaFailures, m.watchdogTimeouts, m.rateLimitWait, m.taskDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Transition(state string) {
	if m != nil {
		m.transitions.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) TaskFinished(outcome string, d time.Duration) {
	if m != nil {
		m.tasks.WithLabelValues(outcome).Inc()
		m.taskDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) RunFinished(result string) {
	if m != nil {
		m.runs.WithLabelValues(result).Inc()
	}
}

// InferenceAttempt matches inference.AttemptObserver.
func (m *Metrics) InferenceAttempt(provider string, _ int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.inferenceAttempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Submission(verdict string) {
	if m != nil {
		m.submissions.WithLabelValues(verdict).Inc()
	}
}

func (m *Metrics) MediaUnavailable(n int) {
	if m != nil {
		m.mediaFailures.Add(float64(n))
	}
}

// WatchdogTimeout matches watchdog.Watchdog.OnTimeout.
func (m *Metrics) WatchdogTimeout(time.Duration) {
	if m != nil {
		m.watchdogTimeouts.Inc()
	}
}

// RateLimitWait matches ratelimit.WithWaitObserver.
func (m *Metrics) RateLimitWait(d time.Duration) {
	if m != nil {
		m.rateLimitWait.Observe(d.Seconds())
	}
}

// Handler exposes the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a dedicated metrics listener until ctx is done.
func (m *Metrics) Serve(ctx context.Context, port int, logger *log.Logger) {
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && logger != nil {
			logger.Printf("metrics server error: %v", err)
		}
	}()
}

// Tracer returns the process tracer. Without an SDK installed it is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}
