package orchestrator

import "context"

// Recorder receives every transition of a run, e.g. to journal it somewhere an
// operator can watch. Errors are logged by the loop and never stop a run.
type Recorder interface {
	StartRun(ctx context.Context, runID, startURL string) error
	Record(ctx context.Context, t Transition) error
	FinishRun(ctx context.Context, res Result) error
}

// NoopRecorder records nothing.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (NoopRecorder) StartRun(ctx context.Context, runID, startURL string) error { return nil }
func (NoopRecorder) Record(ctx context.Context, t Transition) error              { return nil }
func (NoopRecorder) FinishRun(ctx context.Context, res Result) error             { return nil }
