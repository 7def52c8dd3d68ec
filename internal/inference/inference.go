// Package inference turns a task plus its media into an Answer through a
// rate-limited, retrying call to a multimodal model.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mohammad-safakhou/quizrunner/internal/classify"
	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/internal/media"
	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
	"github.com/mohammad-safakhou/quizrunner/models"
	"github.com/mohammad-safakhou/quizrunner/provider"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 8 * time.Second
)

// Acquirer gates every attempt. *ratelimit.Limiter satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) (time.Time, error)
}

// AttemptObserver sees the outcome of each provider call.
type AttemptObserver func(provider string, attempt int, err error)

type Client struct {
	primary  provider.Provider
	fallback provider.Provider
	limiter  Acquirer

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	observe AttemptObserver
	logger  *log.Logger
}

type Option func(*Client)

// WithFallback sets a provider tried once the primary exhausts its transient retries.
func WithFallback(p provider.Provider) Option {
	return func(c *Client) { c.fallback = p }
}

func WithRetryPolicy(maxAttempts int, initial, max time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

func WithAttemptObserver(fn AttemptObserver) Option {
	return func(c *Client) { c.observe = fn }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client. limiter must not be nil: no call is issued without it.
func New(primary provider.Provider, limiter Acquirer, opts ...Option) (*Client, error) {
	if primary == nil {
		return nil, errors.New("inference: primary provider required")
	}
	if limiter == nil {
		return nil, errors.New("inference: rate limiter required")
	}
	c := &Client{
		primary:        primary,
		limiter:        limiter,
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	return c, nil
}

// Infer asks the model for the answer to task. Transient failures are retried
// up to maxAttempts per provider; authentication and request errors return
// after a single attempt.
func (c *Client) Infer(ctx context.Context, task quiz.Task, strategy classify.Strategy, payloads []media.Payload) (quiz.Answer, error) {
	req := BuildRequest(task, strategy, payloads)

	resp, err := c.complete(ctx, c.primary, req)
	if err != nil && c.fallback != nil && ctx.Err() == nil && retryable(err) {
		c.logger.Printf("primary %s exhausted (%v); switching to %s", c.primary.Name(), err, c.fallback.Name())
		resp, err = c.complete(ctx, c.fallback, req)
	}
	if err != nil {
		return quiz.Answer{}, err
	}
	payload := ParseAnswer(resp.Text)
	c.logger.Printf("answer from %s/%s: %v", resp.Provider, resp.Model, payload)
	return quiz.Answer{TaskURL: task.URL, Payload: payload, Reasoning: resp.Text}, nil
}

func (c *Client) complete(ctx context.Context, p provider.Provider, req models.Request) (models.Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	eb.MaxInterval = c.maxBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxAttempts-1)), ctx)

	attempt := 0
	op := func() (models.Response, error) {
		if _, err := c.limiter.Acquire(ctx); err != nil {
			return models.Response{}, backoff.Permanent(err)
		}
		attempt++
		resp, err := p.Complete(ctx, req)
		if c.observe != nil {
			c.observe(p.Name(), attempt, err)
		}
		switch {
		case err == nil:
			return resp, nil
		case ctx.Err() != nil:
			return resp, backoff.Permanent(ctx.Err())
		case retryable(err):
			c.logger.Printf("%s attempt %d/%d failed: %v", p.Name(), attempt, c.maxAttempts, err)
			return resp, err
		default:
			return resp, backoff.Permanent(err)
		}
	}
	resp, err := backoff.RetryWithData(op, b)
	if err != nil {
		if ctx.Err() != nil {
			return models.Response{}, ctx.Err()
		}
		if retryable(err) {
			return models.Response{}, fmt.Errorf("%s failed after %d attempts: %w", p.Name(), attempt, err)
		}
		return models.Response{}, err
	}
	return resp, nil
}

func retryable(err error) bool {
	return failure.IsTransient(err) || errors.Is(err, models.ErrEmptyCompletion)
}
