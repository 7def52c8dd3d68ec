// Package static retrieves pages with a plain HTTP GET.
package static

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/tools/web_fetch/models"
)

type Fetch struct {
	Client    *http.Client
	MaxBytes  int64
	UserAgent string
}

func New(timeout time.Duration, maxBytes int64, userAgent string) *Fetch {
	return &Fetch{
		Client:    &http.Client{Timeout: timeout},
		MaxBytes:  maxBytes,
		UserAgent: userAgent,
	}
}

// Exec issues the GET. Non-2xx responses are returned with their status and
// a nil error; only transport failures produce an error.
func (f *Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	t0 := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Result{}, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Result{URL: url}, failure.FromTransport("GET", url, err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if f.MaxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return models.Result{URL: url, Status: resp.StatusCode}, failure.FromTransport("read", url, err)
	}
	truncated := false
	if f.MaxBytes > 0 && int64(len(body)) > f.MaxBytes {
		body = body[:f.MaxBytes]
		truncated = true
	}
	sum := sha1.Sum(body)
	return models.Result{
		URL:         url,
		FinalURL:    resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		HTMLHash:    hex.EncodeToString(sum[:]),
		Truncated:   truncated,
		RenderMS:    int(time.Since(t0) / time.Millisecond),
	}, nil
}

// StatusError describes a non-2xx result for callers that treat it as a failure.
func StatusError(res models.Result) error {
	return fmt.Errorf("GET %s: unexpected status %d", res.URL, res.Status)
}
