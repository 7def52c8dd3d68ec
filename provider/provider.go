package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/quizrunner/models"
	"github.com/mohammad-safakhou/quizrunner/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/quizrunner/provider/openai"
)

// Client names a provider implementation.
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
	// OpenAICompatible is any gateway speaking the chat completions protocol
	// (aipipe, openrouter, local servers) reached through BaseURL.
	OpenAICompatible Client = "openai_compatible"
)

// Provider is the interface every inference backend satisfies.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req models.Request) (models.Response, error)
}

// Config describes one configured provider.
type Config struct {
	Type        Client
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewProvider builds the provider named by cfg.Type.
func NewProvider(name string, cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key not set", name)
	}
	switch cfg.Type {
	case OpenAI, OpenAICompatible:
		if cfg.Type == OpenAICompatible && cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %s: base_url required for openai_compatible", name)
		}
		return openai_provider.NewOpenAIClient(openai_provider.Options{
			Name:        name,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}), nil
	case Gemini:
		return gemini.New(gemini.Options{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}), nil
	default:
		return nil, errors.New("unsupported LLM provider " + string(cfg.Type))
	}
}
