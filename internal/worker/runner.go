package worker

import (
	"context"

	"github.com/mohammad-safakhou/quizrunner/internal/orchestrator"
	"github.com/mohammad-safakhou/quizrunner/internal/queue/streams"
)

// Runner executes one quiz session for a job.
type Runner interface {
	RunJob(ctx context.Context, job streams.Job) orchestrator.Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job streams.Job) orchestrator.Result

func (f RunnerFunc) RunJob(ctx context.Context, job streams.Job) orchestrator.Result {
	return f(ctx, job)
}

var _ Runner = RunnerFunc(nil)
