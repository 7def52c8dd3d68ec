// Package gemini is a minimal REST client for the generateContent endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/models"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func New(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	return &Client{
		apiKey:      o.APIKey,
		baseURL:     strings.TrimRight(o.BaseURL, "/"),
		model:       o.Model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		httpClient:  &http.Client{Timeout: o.Timeout},
	}
}

func (c *Client) Name() string { return "gemini" }

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

func (c *Client) Complete(ctx context.Context, in models.Request) (models.Response, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: toParts(in.Parts)}},
		GenerationConfig: generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxTokens,
		},
	}
	if in.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: in.System}}}
	}
	if in.JSON {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}
	b, err := json.Marshal(body)
	if err != nil {
		return models.Response{}, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return models.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Response{}, failure.FromTransport("generateContent", endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return models.Response{}, failure.FromTransport("generateContent", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Response{}, statusError(resp.StatusCode, raw)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.Response{}, fmt.Errorf("decode gemini response: %w", err)
	}
	var text strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return models.Response{}, models.ErrEmptyCompletion
	}
	model := out.ModelVersion
	if model == "" {
		model = c.model
	}
	return models.Response{Text: text.String(), Provider: c.Name(), Model: model}, nil
}

func toParts(parts []models.Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		if p.Kind == models.PartText {
			out = append(out, part{Text: p.Text})
			continue
		}
		mime := p.MIMEType
		if mime == "" {
			mime = "application/octet-stream"
		}
		out = append(out, part{InlineData: &inlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(p.Data)}})
	}
	return out
}

// statusError maps Gemini errors. An invalid key is reported as 400
// INVALID_ARGUMENT, so it is recognised by message.
func statusError(status int, raw []byte) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		msg = e.Error.Message
	}
	if status == http.StatusBadRequest && strings.Contains(msg, "API key not valid") {
		return failure.AuthenticationError{Provider: "gemini", Status: status, Message: msg}
	}
	if e.Error.Status == "UNAVAILABLE" || e.Error.Status == "RESOURCE_EXHAUSTED" {
		return failure.UpstreamRoutingError{Provider: "gemini", Status: status, Message: msg}
	}
	return failure.FromStatus("gemini", status, msg)
}
