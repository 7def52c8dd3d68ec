// Package media downloads the resources a task references and normalises them
// into payloads the inference providers accept.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/internal/quiz"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/models"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/readable"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/static"
)

// Payload is one normalised resource.
type Payload struct {
	Ref      quiz.MediaRef
	Modality quiz.Modality
	MIMEType string
	// Data holds raw bytes for binary modalities (image, audio, pdf/xlsx data).
	Data []byte
	// Text holds extracted text for text pages and parsed data files.
	Text  string
	Table *quiz.Table
}

// Fetcher retrieves media one reference at a time.
type Fetcher struct {
	pages    web_fetch.WebFetcher
	renderer web_fetch.WebFetcher
	limiter  *rate.Limiter
	maxChars int
	retries  uint64
	logger   *log.Logger
}

type Option func(*Fetcher)

func WithPageFetcher(f web_fetch.WebFetcher) Option {
	return func(m *Fetcher) { m.pages = f }
}

// WithRenderer lets text pages that yield no readable text go through a headless browser.
func WithRenderer(f web_fetch.WebFetcher) Option {
	return func(m *Fetcher) { m.renderer = f }
}

// WithRate caps downloads per second; rps <= 0 disables the cap.
func WithRate(rps float64) Option {
	return func(m *Fetcher) {
		if rps <= 0 {
			m.limiter = nil
			return
		}
		m.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithMaxChars(n int) Option {
	return func(m *Fetcher) { m.maxChars = n }
}

// WithRetries sets how many extra attempts a transient download failure gets.
func WithRetries(n uint64) Option {
	return func(m *Fetcher) { m.retries = n }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Fetcher) { m.logger = l }
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		limiter:  rate.NewLimiter(rate.Limit(4), 1),
		maxChars: web_fetch.MaxCharsDefault,
		retries:  1,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.pages == nil {
		f.pages = static.New(web_fetch.DefaultTimeout, web_fetch.MaxBytesDefault, web_fetch.DefaultAgent)
	}
	if f.logger == nil {
		f.logger = log.New(io.Discard, "", 0)
	}
	return f
}

// Fetch downloads every reference. Resources that cannot be retrieved are
// reported as failure.MediaUnavailable values joined into the returned error;
// the payloads that did succeed are returned alongside. Only cancellation of
// ctx aborts the whole batch.
func (f *Fetcher) Fetch(ctx context.Context, refs []quiz.MediaRef) ([]Payload, error) {
	var (
		out  []Payload
		errs []error
	)
	for _, ref := range refs {
		p, err := f.fetchOne(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			f.logger.Printf("media %s unavailable: %v", ref.URL, err)
			errs = append(errs, err)
			continue
		}
		f.logger.Printf("media %s ok modality=%s bytes=%d", ref.URL, p.Modality, len(p.Data)+len(p.Text))
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

func (f *Fetcher) fetchOne(ctx context.Context, ref quiz.MediaRef) (Payload, error) {
	var b backoff.BackOff = backoff.NewConstantBackOff(500 * time.Millisecond)
	b = backoff.WithContext(backoff.WithMaxRetries(b, f.retries), ctx)

	res, err := backoff.RetryWithData(func() (models.Result, error) {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return models.Result{}, backoff.Permanent(err)
			}
		}
		res, err := f.pages.Exec(ctx, ref.URL)
		if err != nil {
			if failure.IsTransient(err) {
				return res, err
			}
			return res, backoff.Permanent(err)
		}
		if res.Status >= 500 || res.Status == http.StatusTooManyRequests {
			return res, static.StatusError(res)
		}
		return res, nil
	}, b)
	if err != nil {
		if ctx.Err() != nil {
			return Payload{}, ctx.Err()
		}
		return Payload{}, failure.MediaUnavailable{URL: ref.URL, Reason: "unreachable", Err: err}
	}
	if !res.OK() {
		return Payload{}, failure.MediaUnavailable{URL: ref.URL, Reason: fmt.Sprintf("status %d", res.Status)}
	}
	if len(res.Body) == 0 {
		return Payload{}, failure.MediaUnavailable{URL: ref.URL, Reason: "empty body"}
	}
	return f.normalize(ctx, ref, res)
}

func (f *Fetcher) normalize(ctx context.Context, ref quiz.MediaRef, res models.Result) (Payload, error) {
	mime := mimeOf(res)
	modality := quiz.ModalityOf(ref.URL, mime)
	if ref.Modality == quiz.ModalityImage || ref.Modality == quiz.ModalityAudio {
		modality = ref.Modality
	}
	p := Payload{Ref: ref, Modality: modality, MIMEType: mime}

	switch modality {
	case quiz.ModalityImage, quiz.ModalityAudio:
		p.Data = res.Body
	case quiz.ModalityData:
		if err := normalizeData(&p, res.Body, ref.URL, f.maxChars); err != nil {
			return Payload{}, failure.MediaUnavailable{URL: ref.URL, Reason: "unreadable data", Err: err}
		}
	default:
		p.Text = f.pageText(ctx, ref.URL, res)
		if p.Text == "" {
			return Payload{}, failure.MediaUnavailable{URL: ref.URL, Reason: "no readable text"}
		}
	}
	return p, nil
}

func (f *Fetcher) pageText(ctx context.Context, url string, res models.Result) string {
	if !strings.Contains(strings.ToLower(res.ContentType), "html") {
		return strings.TrimSpace(truncateRunes(string(res.Body), f.maxChars))
	}
	if article, _, err := readable.FromHTML(string(res.Body), url, f.maxChars); err == nil && article.Text != "" {
		return article.Text
	}
	if f.renderer == nil {
		return ""
	}
	rendered, err := f.renderer.Exec(ctx, url)
	if err != nil {
		f.logger.Printf("render %s: %v", url, err)
		return ""
	}
	return rendered.Text
}

func mimeOf(res models.Result) string {
	ct := strings.TrimSpace(res.ContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(res.Body)
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
	}
	return ct
}

// Unavailable extracts the MediaUnavailable values joined into err.
func Unavailable(err error) []failure.MediaUnavailable {
	if err == nil {
		return nil
	}
	var out []failure.MediaUnavailable
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Unavailable(e)...)
		}
		return out
	}
	var mu failure.MediaUnavailable
	if errors.As(err, &mu) {
		out = append(out, mu)
	}
	return out
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
