package inference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/quizrunner/internal/classify"
	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/internal/media"
	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
	"github.com/mohammad-safakhou/quizrunner/internal/ratelimit"
	"github.com/mohammad-safakhou/quizrunner/models"
)

type scriptedProvider struct {
	name  string
	errs  []error
	reply string

	mu    sync.Mutex
	calls int
	last  models.Request
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req models.Request) (models.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	if p.calls <= len(p.errs) {
		return models.Response{}, p.errs[p.calls-1]
	}
	return models.Response{Text: p.reply, Provider: p.name, Model: "stub"}, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLimiter) Acquire(ctx context.Context) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return time.Now(), ctx.Err()
}

func fastClient(t *testing.T, p *scriptedProvider, l Acquirer, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(3, time.Millisecond, 4*time.Millisecond)}, opts...)
	c, err := New(p, l, opts...)
	require.NoError(t, err)
	return c
}

var twoPlusTwo = quiz.Task{URL: "https://q.example.com/task1", Question: "2+2?"}

func TestInferRetriesRoutingErrors(t *testing.T) {
	routing := failure.UpstreamRoutingError{Provider: "stub", Status: 404, Message: "resource not found"}
	p := &scriptedProvider{name: "stub", errs: []error{routing, routing}, reply: `{"answer": "4"}`}
	l := &countingLimiter{}

	ans, err := fastClient(t, p, l).Infer(context.Background(), twoPlusTwo, classify.Analyze, nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, ans.Payload)
	assert.Equal(t, twoPlusTwo.URL, ans.TaskURL)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 3, l.calls, "every attempt must pass the limiter")
}

func TestInferAuthenticationFailsImmediately(t *testing.T) {
	p := &scriptedProvider{name: "stub", errs: []error{failure.AuthenticationError{Provider: "stub", Status: 401}}}
	fallback := &scriptedProvider{name: "backup", reply: `{"answer": 1}`}

	_, err := fastClient(t, p, &countingLimiter{}, WithFallback(fallback)).Infer(context.Background(), twoPlusTwo, classify.Analyze, nil)
	require.Error(t, err)
	assert.True(t, failure.IsFatal(err))
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 0, fallback.calls, "auth failures must not fall back")
}

func TestInferFallbackAfterExhaustion(t *testing.T) {
	netErr := failure.NetworkError{Op: "chat completion", Err: errors.New("connection reset by peer")}
	p := &scriptedProvider{name: "gemini", errs: []error{netErr, netErr, netErr}}
	fallback := &scriptedProvider{name: "aipipe", reply: "```json\n{\"answer\": \"Paris\"}\n```"}
	var observed []string

	c := fastClient(t, p, &countingLimiter{}, WithFallback(fallback), WithAttemptObserver(func(name string, attempt int, err error) {
		observed = append(observed, name)
	}))
	ans, err := c.Infer(context.Background(), quiz.Task{URL: "u", Question: "capital of France?"}, classify.BestEffort, nil)
	require.NoError(t, err)
	assert.Equal(t, "Paris", ans.Payload)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []string{"gemini", "gemini", "gemini", "aipipe"}, observed)
}

func TestInferExhaustedIsTransientTaskFailure(t *testing.T) {
	routing := failure.UpstreamRoutingError{Provider: "stub", Status: 503}
	p := &scriptedProvider{name: "stub", errs: []error{routing, routing, routing, routing}}
	_, err := fastClient(t, p, &countingLimiter{}).Infer(context.Background(), twoPlusTwo, classify.Analyze, nil)
	require.Error(t, err)
	assert.True(t, failure.IsTransient(err))
	assert.False(t, failure.IsFatal(err))
	assert.Equal(t, 3, p.calls)
}

func TestInferRespectsRealLimiterCap(t *testing.T) {
	lim := ratelimit.New(2, time.Hour)
	p := &scriptedProvider{name: "stub", reply: `{"answer": true}`}
	c := fastClient(t, p, lim)
	for i := 0; i < 2; i++ {
		_, err := c.Infer(context.Background(), twoPlusTwo, classify.Analyze, nil)
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Infer(ctx, twoPlusTwo, classify.Analyze, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, p.calls, "third call must wait for the window")
}

func TestBuildRequestCarriesMedia(t *testing.T) {
	task := quiz.Task{URL: "https://q/t", Question: "What is in the picture and the clip?", Context: []string{"table 1: 3 rows"}}
	payloads := []media.Payload{
		{Ref: quiz.MediaRef{Label: "cat.png"}, Modality: quiz.ModalityImage, MIMEType: "image/png", Data: []byte{1}},
		{Ref: quiz.MediaRef{Label: "clip.mp3"}, Modality: quiz.ModalityAudio, MIMEType: "audio/mpeg", Data: []byte{2}},
		{Ref: quiz.MediaRef{Label: "sales.csv"}, Modality: quiz.ModalityData, Text: "sales.csv: 2 rows"},
	}
	req := BuildRequest(task, classify.Process, payloads)
	require.Len(t, req.Parts, 3)
	assert.True(t, req.JSON)
	assert.Equal(t, models.PartText, req.Parts[0].Kind)
	assert.True(t, strings.Contains(req.Parts[0].Text, "Attached sales.csv (data):\nsales.csv: 2 rows"))
	assert.True(t, strings.Contains(req.Parts[0].Text, "- table 1: 3 rows"))
	assert.Equal(t, models.PartImage, req.Parts[1].Kind)
	assert.Equal(t, models.PartAudio, req.Parts[2].Kind)
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{`{"answer": 4}`, 4.0},
		{`Sure: {"answer": "12.5"}`, 12.5},
		{`{"answer": "007"}`, "007"},
		{`{"answer": {"a": 1}}`, map[string]any{"a": 1.0}},
		{`"hello world"`, "hello world"},
		{"42\n", 42.0},
		{`{"other": 1}`, `{"other": 1}`},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseAnswer(tc.in), tc.in)
	}
}
