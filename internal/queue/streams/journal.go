package streams

import (
	"context"

	"github.com/mohammad-safakhou/quizrunner/internal/orchestrator"
)

// DefaultJournalMaxLen bounds the events stream.
const DefaultJournalMaxLen = 10000

// Journal publishes run lifecycle events and state transitions to a stream
// so an operator can see where a chained run stalled.
type Journal struct {
	publisher *Publisher
	stream    string
	maxLen    int64
}

func NewJournal(p *Publisher, stream string, maxLen int64) *Journal {
	if maxLen <= 0 {
		maxLen = DefaultJournalMaxLen
	}
	return &Journal{publisher: p, stream: stream, maxLen: maxLen}
}

type runStarted struct {
	RunID    string `json:"run_id"`
	StartURL string `json:"start_url"`
}

func (j *Journal) StartRun(ctx context.Context, runID, startURL string) error {
	_, err := j.publisher.PublishEvent(ctx, j.stream, EventRunStarted, runID,
		runStarted{RunID: runID, StartURL: startURL}, WithMaxLenApprox(j.maxLen))
	return err
}

func (j *Journal) Record(ctx context.Context, t orchestrator.Transition) error {
	_, err := j.publisher.PublishEvent(ctx, j.stream, EventTransition, t.RunID, t, WithMaxLenApprox(j.maxLen))
	return err
}

func (j *Journal) FinishRun(ctx context.Context, res orchestrator.Result) error {
	_, err := j.publisher.PublishEvent(ctx, j.stream, EventRunFinished, res.RunID, res, WithMaxLenApprox(j.maxLen))
	return err
}

var _ orchestrator.Recorder = (*Journal)(nil)
