package web_fetch

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/models"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/static"
)

const (
	DefaultTimeout  = 30 * time.Second
	MaxBytesDefault = 20 << 20
	MaxCharsDefault = 20000
	DefaultAgent    = "quizrunner/1.0 (+https://github.com/mohammad-safakhou/quizrunner)"
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	StaticFetcherType   FetcherType = "static"
	ChromedpFetcherType FetcherType = "chromedp"
)

// Options tunes a fetcher; zero values fall back to package defaults.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	MaxChars  int
	UserAgent string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = MaxBytesDefault
	}
	if o.MaxChars <= 0 {
		o.MaxChars = MaxCharsDefault
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultAgent
	}
	return o
}

func NewWebFetcher(fetcherType FetcherType, opts Options) (WebFetcher, error) {
	opts = opts.withDefaults()
	switch fetcherType {
	case StaticFetcherType:
		return static.New(opts.Timeout, opts.MaxBytes, opts.UserAgent), nil
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: opts.Timeout, MaxChars: opts.MaxChars, UserAgent: opts.UserAgent}, nil
	default:
		return nil, &Error{"unsupported fetcher type " + string(fetcherType)}
	}
}

// Error reports a fetcher construction problem.
type Error struct {
	msg string
}

func (e *Error) Error() string { return "web_fetch: " + e.msg }
