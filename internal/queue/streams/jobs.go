package streams

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Job asks a worker to run one quiz session. Secret never enters the stream;
// JobQueue parks it in a SecretStore keyed by run ID.
type Job struct {
	RunID       string    `json:"run_id"`
	Email       string    `json:"email"`
	Secret      string    `json:"-"`
	URL         string    `json:"url"`
	RequestedAt time.Time `json:"requested_at"`
}

func (j Job) Validate() error {
	if j.Email == "" || j.Secret == "" {
		return errors.New("job: email and secret are required")
	}
	u, err := url.Parse(j.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("job: url must be an absolute http(s) url")
	}
	return nil
}

// JobQueue enqueues quiz.job envelopes.
type JobQueue struct {
	publisher *Publisher
	secrets   *SecretStore
	stream    string
	maxLen    int64
}

func NewJobQueue(p *Publisher, secrets *SecretStore, stream string, maxLen int64) *JobQueue {
	return &JobQueue{publisher: p, secrets: secrets, stream: stream, maxLen: maxLen}
}

func (q *JobQueue) Stream() string { return q.stream }

// Enqueue validates job, assigns a run ID when missing and publishes it.
// It returns the job with its final run ID.
func (q *JobQueue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if err := job.Validate(); err != nil {
		return job, err
	}
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	if q.secrets == nil {
		return job, errors.New("job queue has no secret store")
	}
	if err := q.secrets.Put(ctx, job.RunID, job.Secret); err != nil {
		return job, err
	}
	if _, err := q.publisher.PublishEvent(ctx, q.stream, EventJob, job.RunID, job, WithMaxLenApprox(q.maxLen)); err != nil {
		_ = q.secrets.Delete(context.WithoutCancel(ctx), job.RunID)
		return job, err
	}
	return job, nil
}
