// Package orchestrator drives a quiz run: fetch a task, classify it, gather
// its media, infer an answer, submit it and follow the next URL.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/quizrunner/internal/classify"
	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/internal/media"
	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
	"github.com/mohammad-safakhou/quizrunner/internal/telemetry"
	"github.com/mohammad-safakhou/quizrunner/internal/watchdog"
)

const (
	DefaultMaxTaskAttempts = 2
	DefaultMaxTasks        = 50
)

type TaskSource interface {
	FetchTask(ctx context.Context, url string) (quiz.Task, error)
}

type Submitter interface {
	Submit(ctx context.Context, task quiz.Task, answer quiz.Answer) (quiz.Submission, error)
}

type MediaFetcher interface {
	Fetch(ctx context.Context, refs []quiz.MediaRef) ([]media.Payload, error)
}

type Inferrer interface {
	Infer(ctx context.Context, task quiz.Task, strategy classify.Strategy, payloads []media.Payload) (quiz.Answer, error)
}

// Loop runs sessions. It holds no per-run state, so one Loop may serve
// consecutive runs.
type Loop struct {
	source    TaskSource
	submitter Submitter
	media     MediaFetcher
	inferrer  Inferrer

	watchdog *watchdog.Watchdog
	recorder Recorder
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	logger   *log.Logger

	maxTaskAttempts int
	maxTasks        int
	fetchInitial    time.Duration
	fetchMax        time.Duration
	classify        func(quiz.Task) classify.Strategy
	now             func() time.Time
}

// Option configures loop behaviour.
type Option func(*Loop)

func WithWatchdog(w *watchdog.Watchdog) Option {
	return func(l *Loop) { l.watchdog = w }
}

func WithRecorder(r Recorder) Option {
	return func(l *Loop) { l.recorder = r }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

func WithLogger(lg *log.Logger) Option {
	return func(l *Loop) { l.logger = lg }
}

// WithTaskBudget sets how many attempts one task URL gets and how many tasks a
// run may chain before it is stopped.
func WithTaskBudget(maxTaskAttempts, maxTasks int) Option {
	return func(l *Loop) {
		if maxTaskAttempts > 0 {
			l.maxTaskAttempts = maxTaskAttempts
		}
		if maxTasks > 0 {
			l.maxTasks = maxTasks
		}
	}
}

// WithFetchBackoff tunes the retry curve used while FETCHING.
func WithFetchBackoff(initial, max time.Duration) Option {
	return func(l *Loop) {
		if initial > 0 {
			l.fetchInitial = initial
		}
		if max > 0 {
			l.fetchMax = max
		}
	}
}

// WithClassifier replaces classify.Classify.
func WithClassifier(fn func(quiz.Task) classify.Strategy) Option {
	return func(l *Loop) { l.classify = fn }
}

func New(source TaskSource, submitter Submitter, mediaFetcher MediaFetcher, inferrer Inferrer, opts ...Option) (*Loop, error) {
	if source == nil || submitter == nil || mediaFetcher == nil || inferrer == nil {
		return nil, errors.New("orchestrator: task source, submitter, media fetcher and inferrer are required")
	}
	l := &Loop{
		source:          source,
		submitter:       submitter,
		media:           mediaFetcher,
		inferrer:        inferrer,
		maxTaskAttempts: DefaultMaxTaskAttempts,
		maxTasks:        DefaultMaxTasks,
		fetchInitial:    time.Second,
		fetchMax:        8 * time.Second,
		classify:        classify.Classify,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = log.New(io.Discard, "", 0)
	}
	if l.watchdog == nil {
		l.watchdog = watchdog.New(watchdog.DefaultDeadline, l.logger)
	}
	if l.recorder == nil {
		l.recorder = NewNoopRecorder()
	}
	if l.tracer == nil {
		l.tracer = telemetry.Tracer()
	}
	return l, nil
}

// attemptResult is what one pass through the state machine produced. Failed
// attempts return whatever they learned before failing.
type attemptResult struct {
	task       quiz.Task
	strategy   classify.Strategy
	answer     quiz.Answer
	submission quiz.Submission
	submitted  bool
	calledAt   time.Time
}

// cursor identifies the attempt in logs and transitions. The attempt goroutine
// only sees this copy, never the session itself, because it may outlive a
// watchdog expiry.
type cursor struct {
	runID   string
	task    int
	attempt int
	url     string
}

func (s *SessionState) cursor() cursor {
	return cursor{runID: s.RunID, task: s.TaskIndex + 1, attempt: s.AttemptCount, url: s.CurrentURL}
}

// Run executes one session starting at startURL and blocks until it is DONE
// or FAILED. An empty runID gets a fresh one.
func (l *Loop) Run(ctx context.Context, runID, startURL string) Result {
	if runID == "" {
		runID = uuid.NewString()
	}
	sess := &SessionState{RunID: runID, CurrentURL: startURL, StartedAt: l.now()}
	res := Result{RunID: runID, StartURL: startURL}
	if err := l.recorder.StartRun(ctx, runID, startURL); err != nil {
		l.logger.Printf("run=%s recorder start failed: %v", runID, err)
	}
	l.logger.Printf("run=%s starting url=%s", runID, startURL)

	finish := func(state State, err error) Result {
		res.State = state
		res.LastURL = sess.CurrentURL
		res.TasksCompleted = sess.TasksCompleted
		res.TasksFailed = sess.TasksFailed
		res.Elapsed = l.now().Sub(sess.StartedAt)
		res.Err = err
		if err != nil {
			res.Reason = err.Error()
		}
		l.transition(ctx, sess.cursor(), state, "", "", err)
		l.metrics.RunFinished(string(state))
		if rerr := l.recorder.FinishRun(context.WithoutCancel(ctx), res); rerr != nil {
			l.logger.Printf("run=%s recorder finish failed: %v", runID, rerr)
		}
		l.logger.Printf("run=%s finished state=%s completed=%d failed=%d", runID, state, res.TasksCompleted, res.TasksFailed)
		return res
	}

	for {
		if sess.TaskIndex >= l.maxTasks {
			return finish(Failed, fmt.Errorf("task limit %d reached without a completion marker", l.maxTasks))
		}
		sess.AttemptCount++
		start := l.now()
		out, err := l.runAttempt(ctx, sess.cursor())
		elapsed := l.now().Sub(start)
		if !out.calledAt.IsZero() {
			sess.LastCall = out.calledAt
		}

		sub := out.submission
		if out.submitted {
			l.countVerdict(&res, sub)
			if err == nil && sub.Rejected() && sub.Terminal() && !sub.Done {
				err = fmt.Errorf("answer rejected without a next url: %s", sub.Reason)
			}
		}

		if err != nil {
			sess.TasksFailed++
			l.metrics.TaskFinished("failed", elapsed)
			switch {
			case ctx.Err() != nil:
				l.recordTask(&res, sess, out, err)
				return finish(Failed, fmt.Errorf("run cancelled: %w", ctx.Err()))
			case failure.IsFatal(err):
				l.recordTask(&res, sess, out, err)
				return finish(Failed, err)
			case sess.AttemptCount < l.maxTaskAttempts:
				l.logger.Printf("run=%s task=%d attempt=%d failed, retrying: %v", sess.RunID, sess.TaskIndex+1, sess.AttemptCount, err)
				continue
			default:
				l.recordTask(&res, sess, out, err)
				return finish(Failed, fmt.Errorf("task %d failed after %d attempt(s): %w", sess.TaskIndex+1, sess.AttemptCount, err))
			}
		}

		sess.TasksCompleted++
		l.metrics.TaskFinished("completed", elapsed)
		l.recordTask(&res, sess, out, nil)
		if sub.Rejected() {
			l.logger.Printf("run=%s task=%d answer rejected (%s); moving on", sess.RunID, sess.TaskIndex+1, sub.Reason)
		}
		if sub.Terminal() {
			return finish(Done, nil)
		}
		l.transition(ctx, sess.cursor(), Next, string(out.strategy), sub.NextURL, nil)
		sess.CurrentURL = sub.NextURL
		sess.TaskIndex++
		sess.AttemptCount = 0
	}
}

func (l *Loop) countVerdict(res *Result, sub quiz.Submission) {
	switch {
	case sub.Correct == nil:
		l.metrics.Submission("unknown")
	case *sub.Correct:
		res.Correct++
		l.metrics.Submission("correct")
	default:
		res.Incorrect++
		l.metrics.Submission("incorrect")
	}
}

// runAttempt is one pass FETCHING → SUBMITTING under the watchdog.
func (l *Loop) runAttempt(ctx context.Context, cur cursor) (attemptResult, error) {
	ctx, span := l.tracer.Start(ctx, "quiz.task", trace.WithAttributes(
		attribute.String("run.id", cur.runID),
		attribute.Int("task.index", cur.task),
		attribute.Int("task.attempt", cur.attempt),
		attribute.String("task.url", cur.url),
	))
	defer span.End()

	out, err := watchdog.Run(ctx, l.watchdog, func(ctx context.Context) (attemptResult, error) {
		return l.attempt(ctx, cur)
	})
	if err != nil {
		if failure.IsTimeout(err) {
			l.metrics.WatchdogTimeout(l.watchdog.Deadline)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetAttributes(attribute.String("task.strategy", string(out.strategy)))
	return out, nil
}

func (l *Loop) attempt(ctx context.Context, cur cursor) (out attemptResult, err error) {
	start := l.now()
	l.transition(ctx, cur, Fetching, "", cur.url, nil)
	task, err := l.fetch(ctx, cur.url)
	if err != nil {
		return out, fmt.Errorf("fetch %s: %w", cur.url, err)
	}
	out.task = task
	if !task.Deadline.IsZero() {
		parent := ctx
		taskCtx, cancel := context.WithDeadline(ctx, task.Deadline)
		defer cancel()
		defer func() {
			err = taskDeadlineErr(parent, taskCtx, task.Deadline.Sub(start), l.now().Sub(start), err)
		}()
		ctx = taskCtx
	}

	l.transition(ctx, cur, Classifying, "", cur.url, nil)
	out.strategy = l.classify(task)
	l.logger.Printf("run=%s task=%d strategy=%s media=%d question=%q", cur.runID, cur.task, out.strategy, len(task.Media), truncate(task.Question, 120))

	var payloads []media.Payload
	if task.HasMedia() {
		l.transition(ctx, cur, GatheringMedia, string(out.strategy), cur.url, nil)
		payloads, err = l.gather(ctx, task, out.strategy)
		if err != nil {
			return out, err
		}
	}

	l.transition(ctx, cur, Inferring, string(out.strategy), cur.url, nil)
	out.answer, err = l.inferrer.Infer(ctx, task, out.strategy, payloads)
	out.calledAt = l.now()
	if err != nil {
		return out, fmt.Errorf("infer: %w", err)
	}

	l.transition(ctx, cur, Submitting, string(out.strategy), task.SubmitURL, nil)
	out.submission, err = l.submitter.Submit(ctx, task, out.answer)
	if err != nil {
		return out, fmt.Errorf("submit: %w", err)
	}
	out.submitted = true
	sub := out.submission
	l.logger.Printf("run=%s task=%d submitted answer=%q correct=%s next=%q reason=%q",
		cur.runID, cur.task, truncate(out.answer.String(), 80), verdict(sub.Correct), sub.NextURL, sub.Reason)
	return out, nil
}

// taskDeadlineErr reports an error caused by the task's own deadline as
// failure.TaskTimeout. Expiry or cancellation of parent passes through.
func taskDeadlineErr(parent, taskCtx context.Context, deadline, elapsed time.Duration, err error) error {
	if err == nil || parent.Err() != nil || !errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		return err
	}
	if deadline < 0 {
		deadline = 0
	}
	return failure.TaskTimeout{Deadline: deadline, Elapsed: elapsed}
}

// fetch retries transient failures with exponential backoff until ctx (the
// watchdog's) runs out.
func (l *Loop) fetch(ctx context.Context, url string) (quiz.Task, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.fetchInitial
	eb.MaxInterval = l.fetchMax
	eb.MaxElapsedTime = 0
	return backoff.RetryNotifyWithData(func() (quiz.Task, error) {
		task, err := l.source.FetchTask(ctx, url)
		if err != nil && !failure.IsTransient(err) {
			return task, backoff.Permanent(err)
		}
		return task, err
	}, backoff.WithContext(eb, ctx), func(err error, wait time.Duration) {
		l.logger.Printf("fetch %s failed, retrying in %s: %v", url, wait.Round(time.Millisecond), err)
	})
}

// gather fetches media and decides whether missing resources are fatal for
// the task: a reference the task marked required is, and so is losing every
// resource under a strategy that cannot work without media.
func (l *Loop) gather(ctx context.Context, task quiz.Task, strategy classify.Strategy) ([]media.Payload, error) {
	payloads, err := l.media.Fetch(ctx, task.Media)
	if err == nil {
		return payloads, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	missing := media.Unavailable(err)
	if len(missing) == 0 {
		return nil, fmt.Errorf("gather media: %w", err)
	}
	l.metrics.MediaUnavailable(len(missing))
	for _, ref := range task.Media {
		if !ref.Required {
			continue
		}
		for _, m := range missing {
			if m.URL == ref.URL {
				return nil, m
			}
		}
	}
	if strategy.RequiresMedia() && len(payloads) == 0 {
		return nil, missing[0]
	}
	l.logger.Printf("continuing with %d of %d media (%d unavailable)", len(payloads), len(task.Media), len(missing))
	return payloads, nil
}

func (l *Loop) transition(ctx context.Context, cur cursor, state State, strategy, url string, err error) {
	if url == "" {
		url = cur.url
	}
	t := Transition{
		RunID:     cur.runID,
		TaskIndex: cur.task,
		Attempt:   cur.attempt,
		State:     state,
		URL:       url,
		Strategy:  strategy,
		At:        l.now(),
	}
	if err != nil {
		t.Error = err.Error()
		l.logger.Printf("run=%s task=%d state=%s url=%s err=%v", t.RunID, t.TaskIndex, state, url, err)
	} else {
		l.logger.Printf("run=%s task=%d state=%s url=%s", t.RunID, t.TaskIndex, state, url)
	}
	trace.SpanFromContext(ctx).AddEvent(string(state))
	l.metrics.Transition(string(state))
	if rerr := l.recorder.Record(context.WithoutCancel(ctx), t); rerr != nil {
		l.logger.Printf("run=%s recorder: %v", cur.runID, rerr)
	}
}

func (l *Loop) recordTask(res *Result, sess *SessionState, out attemptResult, err error) {
	rec := TaskRecord{
		URL:      sess.CurrentURL,
		Strategy: string(out.strategy),
		Attempts: sess.AttemptCount,
		Correct:  out.submission.Correct,
		Reason:   out.submission.Reason,
	}
	if out.answer.Payload != nil {
		rec.Answer = truncate(out.answer.String(), 200)
	}
	if err != nil {
		rec.Error = err.Error()
	}
	res.Tasks = append(res.Tasks, rec)
}

func verdict(c *bool) string {
	if c == nil {
		return "unknown"
	}
	if *c {
		return "true"
	}
	return "false"
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
