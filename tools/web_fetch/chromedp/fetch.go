package chromedp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/models"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/readable"
)

// Fetch renders a page in headless Chrome so script-built task pages
// (atob payloads, client-side templates) expose their final DOM.
type Fetch struct {
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
}

func (f *Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	t0 := time.Now()

	html, finalURL, err := f.render(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return models.Result{}, ctx.Err()
		}
		return models.Result{URL: url, RenderMS: ms(t0)}, failure.NetworkError{Op: "render", URL: url, Err: err}
	}
	sum := sha1.Sum([]byte(html))
	res := models.Result{
		URL:         url,
		FinalURL:    finalURL,
		Status:      200,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(html),
		HTMLHash:    hex.EncodeToString(sum[:]),
		Rendered:    true,
	}
	if article, truncated, err := readable.FromHTML(html, url, f.MaxChars); err == nil {
		res.Title = article.Title
		res.Text = article.Text
		res.Truncated = truncated
	}
	res.RenderMS = ms(t0)
	return res, nil
}

func (f *Fetch) render(ctx context.Context, url string) (string, string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	if f.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.UserAgent))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html, location string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if location == "" {
		location = url
	}
	return html, location, err
}

func ms(t0 time.Time) int { return int(time.Since(t0) / time.Millisecond) }
