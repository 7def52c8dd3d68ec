package openai_provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/quizrunner/internal/failure"
	"github.com/mohammad-safakhou/quizrunner/models"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Client talks to any OpenAI-compatible chat completions endpoint
// (api.openai.com, aipipe and similar gateways).
type Client struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

type Options struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func NewOpenAIClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Name == "" {
		o.Name = "openai"
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	return &Client{
		name:        o.Name,
		apiKey:      o.APIKey,
		baseURL:     strings.TrimRight(o.BaseURL, "/"),
		model:       o.Model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		httpClient:  &http.Client{Timeout: o.Timeout},
	}
}

func (c *Client) Name() string { return c.name }

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   *imageURL   `json:"image_url,omitempty"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
	File       *fileData   `json:"file,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type fileData struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type request struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion.
func (c *Client) Complete(ctx context.Context, in models.Request) (models.Response, error) {
	body := request{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if in.System != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: in.System})
	}
	body.Messages = append(body.Messages, message{Role: "user", Content: contentParts(in.Parts)})
	if in.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return models.Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return models.Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Response{}, failure.FromTransport("chat completion", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return models.Response{}, failure.FromTransport("chat completion", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Response{}, failure.FromStatus(c.name, resp.StatusCode, errorMessage(raw))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.Response{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return models.Response{}, models.ErrEmptyCompletion
	}
	model := out.Model
	if model == "" {
		model = c.model
	}
	return models.Response{Text: out.Choices[0].Message.Content, Provider: c.name, Model: model}, nil
}

func contentParts(parts []models.Part) []contentPart {
	out := make([]contentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case models.PartImage:
			out = append(out, contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURI(p)}})
		case models.PartAudio:
			out = append(out, contentPart{Type: "input_audio", InputAudio: &inputAudio{
				Data:   base64.StdEncoding.EncodeToString(p.Data),
				Format: audioFormat(p.MIMEType),
			}})
		case models.PartFile:
			out = append(out, contentPart{Type: "file", File: &fileData{Filename: p.Name, FileData: dataURI(p)}})
		default:
			out = append(out, contentPart{Type: "text", Text: p.Text})
		}
	}
	return out
}

func dataURI(p models.Part) string {
	mime := p.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

func audioFormat(mime string) string {
	switch {
	case strings.Contains(mime, "wav"):
		return "wav"
	default:
		return "mp3"
	}
}

// errorMessage pulls error.message out of an API error body.
func errorMessage(raw []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
