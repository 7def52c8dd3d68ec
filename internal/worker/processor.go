package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mohammad-safakhou/quizrunner/internal/orchestrator"
	"github.com/mohammad-safakhou/quizrunner/internal/queue/streams"
)

// DefaultReclaimIdle is how long a job may sit unacknowledged with a dead
// consumer before another worker takes it over.
const DefaultReclaimIdle = 10 * time.Minute

// JobSource is the part of streams.Consumer the processor uses.
type JobSource interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// SecretSource resolves the quiz secret of a queued job by run ID.
type SecretSource interface {
	Get(ctx context.Context, runID string) (string, error)
	Delete(ctx context.Context, runID string) error
}

// Option configures a Processor.
type Option func(*Processor)

// WithSecrets sets where job secrets are looked up. Without it a job must
// carry its own secret.
func WithSecrets(s SecretSource) Option {
	return func(p *Processor) { p.secrets = s }
}

// Processor consumes quiz.job envelopes and runs their sessions one at a time.
// A job is acknowledged once its session has reached DONE or FAILED.
type Processor struct {
	logger      *log.Logger
	source      JobSource
	stream      string
	runner      Runner
	secrets     SecretSource
	tracer      trace.Tracer
	reclaimIdle time.Duration
	readBlock   time.Duration

	jobCounter otelmetric.Int64Counter
}

// NewProcessor constructs a Processor. meter and tracer may be nil.
func NewProcessor(logger *log.Logger, source JobSource, stream string, runner Runner, meter otelmetric.Meter, tracer trace.Tracer, opts ...Option) *Processor {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Processor{
		logger:      logger,
		source:      source,
		stream:      stream,
		runner:      runner,
		tracer:      tracer,
		reclaimIdle: DefaultReclaimIdle,
		readBlock:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if meter != nil {
		var err error
		p.jobCounter, err = meter.Int64Counter("worker_jobs_processed")
		if err != nil {
			logger.Printf("warn: create job counter failed: %v", err)
		}
	}
	return p
}

// Start blocks, processing jobs until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker starting; consuming stream %s", p.stream)
	if err := p.reclaim(ctx); err != nil {
		p.logger.Printf("warn: reclaim stale jobs failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.source.Read(ctx, p.stream, streams.WithBlock(p.readBlock), streams.WithCount(1))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			p.process(ctx, msg)
		}
	}
}

// reclaim picks up jobs a crashed worker left pending.
func (p *Processor) reclaim(ctx context.Context) error {
	start := "0-0"
	for {
		msgs, next, err := p.source.AutoClaim(ctx, p.stream, p.reclaimIdle, start, 16)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			p.logger.Printf("reclaimed %d stale job(s)", len(msgs))
		}
		for _, msg := range msgs {
			p.process(ctx, msg)
		}
		if next == "" || next == "0-0" {
			return nil
		}
		start = next
	}
}

func (p *Processor) process(ctx context.Context, msg streams.Message) {
	res, runID, err := p.handleJob(ctx, msg)
	outcome := string(res.State)
	if err != nil {
		outcome = "invalid"
		p.logger.Printf("error handling job %s: %v", msg.ID, err)
	}
	if p.jobCounter != nil {
		p.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	}
	// An interrupted session is left pending so another worker can reclaim it.
	if ctx.Err() != nil {
		return
	}
	if err := p.source.Ack(ctx, p.stream, msg.ID); err != nil {
		p.logger.Printf("warn: failed to ack job %s: %v", msg.ID, err)
		return
	}
	if p.secrets != nil && runID != "" {
		if err := p.secrets.Delete(ctx, runID); err != nil {
			p.logger.Printf("warn: failed to delete secret of run %s: %v", runID, err)
		}
	}
}

func (p *Processor) handleJob(ctx context.Context, msg streams.Message) (orchestrator.Result, string, error) {
	if msg.Envelope.EventType != streams.EventJob {
		return orchestrator.Result{}, "", fmt.Errorf("unexpected event type %q", msg.Envelope.EventType)
	}
	var job streams.Job
	if err := msg.Envelope.Decode(&job); err != nil {
		return orchestrator.Result{}, "", err
	}
	if job.RunID == "" {
		job.RunID = msg.Envelope.RunID
	}
	if job.Secret == "" && p.secrets != nil && job.RunID != "" {
		secret, err := p.secrets.Get(ctx, job.RunID)
		if err != nil {
			return orchestrator.Result{}, job.RunID, fmt.Errorf("run %s: %w", job.RunID, err)
		}
		job.Secret = secret
	}
	if err := job.Validate(); err != nil {
		return orchestrator.Result{}, job.RunID, err
	}

	ctx, span := p.tracer.Start(ctx, "worker.handle_job", trace.WithAttributes(
		attribute.String("run.id", job.RunID),
		attribute.String("job.url", job.URL),
	))
	defer span.End()

	p.logger.Printf("job %s: run=%s url=%s", msg.ID, job.RunID, job.URL)
	res := p.runner.RunJob(ctx, job)
	p.logger.Printf("job %s finished: %s", msg.ID, res.Summary())
	return res, job.RunID, nil
}
