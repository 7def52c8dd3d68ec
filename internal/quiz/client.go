package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/internal/helpers"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/models"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/static"
)

// RenderMode controls when task pages go through the headless browser.
type RenderMode string

const (
	RenderAuto   RenderMode = "auto"
	RenderAlways RenderMode = "always"
	RenderNever  RenderMode = "never"
)

// Client fetches task pages and posts answers.
type Client struct {
	email  string
	secret string

	pages    web_fetch.WebFetcher
	renderer web_fetch.WebFetcher
	mode     RenderMode

	http   *http.Client
	logger *log.Logger
}

type Option func(*Client)

// WithPageFetcher replaces the static page fetcher.
func WithPageFetcher(f web_fetch.WebFetcher) Option {
	return func(c *Client) { c.pages = f }
}

// WithRenderer enables JS rendering through f under the given mode.
func WithRenderer(f web_fetch.WebFetcher, mode RenderMode) Option {
	return func(c *Client) {
		c.renderer = f
		c.mode = mode
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(email, secret string, opts ...Option) *Client {
	c := &Client{
		email:  email,
		secret: secret,
		mode:   RenderNever,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pages == nil {
		c.pages = static.New(web_fetch.DefaultTimeout, web_fetch.MaxBytesDefault, web_fetch.DefaultAgent)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	return c
}

// FetchTask retrieves and parses the task at url. Transport failures and
// 5xx/429 responses come back as failure.NetworkError so the caller can retry.
func (c *Client) FetchTask(ctx context.Context, url string) (Task, error) {
	if c.mode == RenderAlways && c.renderer != nil {
		return c.fetchWith(ctx, c.renderer, url)
	}
	task, err := c.fetchWith(ctx, c.pages, url)
	if c.mode != RenderAuto || c.renderer == nil || !needsRender(task, err) {
		return task, err
	}
	c.logger.Printf("page %s looks script-rendered; retrying with headless browser", url)
	rendered, rerr := c.fetchWith(ctx, c.renderer, url)
	if rerr != nil {
		if err == nil {
			c.logger.Printf("render %s failed, keeping static parse: %v", url, rerr)
			return task, nil
		}
		return Task{}, rerr
	}
	return rendered, nil
}

func (c *Client) fetchWith(ctx context.Context, f web_fetch.WebFetcher, url string) (Task, error) {
	res, err := f.Exec(ctx, url)
	if err != nil {
		return Task{}, err
	}
	if err := statusError(res); err != nil {
		return Task{}, err
	}
	return Parse(url, res.ContentType, res.Body)
}

// needsRender is true when the static page parsed to nothing useful.
func needsRender(t Task, err error) bool {
	if err != nil {
		return errors.Is(err, ErrEmptyTask)
	}
	return len(t.Question) < 8 && !t.HasMedia()
}

func statusError(res models.Result) error {
	switch {
	case res.OK():
		return nil
	case res.Status == http.StatusTooManyRequests || res.Status >= 500:
		return failure.NetworkError{Op: "fetch task", URL: res.URL, Err: static.StatusError(res)}
	default:
		return fmt.Errorf("fetch task: %w", static.StatusError(res))
	}
}

// payload is the body the submission endpoint expects.
type payload struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
	Answer any    `json:"answer"`
}

// Submit posts answer to the task's submission endpoint exactly once. A 4xx
// response with a JSON body is still a valid Submission (usually correct=false).
func (c *Client) Submit(ctx context.Context, task Task, answer Answer) (Submission, error) {
	endpoint := task.SubmitURL
	if endpoint == "" {
		endpoint = helpers.SubmitFallback(task.URL)
	}
	b, err := json.Marshal(payload{Email: c.email, Secret: c.secret, URL: task.URL, Answer: answer.Payload})
	if err != nil {
		return Submission{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return Submission{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Submission{}, failure.FromTransport("submit", endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Submission{}, failure.FromTransport("submit", endpoint, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Submission{}, failure.NetworkError{Op: "submit", URL: endpoint,
			Err: fmt.Errorf("%s: %s", resp.Status, helpers.Truncate(string(body), 512))}
	}
	sub, perr := ParseSubmission(task.URL, body)
	if perr != nil {
		if resp.StatusCode >= 400 {
			return Submission{}, fmt.Errorf("submit %s: %s: %s", endpoint, resp.Status, helpers.Truncate(string(body), 512))
		}
		return Submission{}, perr
	}
	return sub, nil
}

// ParseSubmission reads a submission response. Relative next URLs resolve
// against the task URL.
func ParseSubmission(taskURL string, body []byte) (Submission, error) {
	var doc map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(body), &doc); err != nil {
		return Submission{}, fmt.Errorf("decode submission response: %w", err)
	}
	sub := Submission{Raw: doc}
	if v, ok := doc["correct"].(bool); ok {
		sub.Correct = &v
	}
	sub.Reason = firstString(doc, "reason", "message", "detail")
	for _, key := range []string{"done", "completed", "finished"} {
		if v, ok := doc[key].(bool); ok && v {
			sub.Done = true
		}
	}
	switch strings.ToLower(firstString(doc, "status")) {
	case "done", "complete", "completed", "finished":
		sub.Done = true
	}
	if sub.Done {
		return sub, nil
	}
	if next := firstString(doc, "url", "next_url", "nextTaskUrl", "next"); next != "" {
		abs, err := helpers.ResolveURL(taskURL, next)
		if err != nil {
			return Submission{}, fmt.Errorf("submission next url %q: %w", next, err)
		}
		sub.NextURL = abs
	}
	return sub, nil
}
