package provider

import "testing"

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("primary", Config{Type: Gemini, APIKey: "k"})
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	if p.Name() != "gemini" {
		t.Fatalf("unexpected name %q", p.Name())
	}
	p, err = NewProvider("aipipe", Config{Type: OpenAICompatible, APIKey: "k", BaseURL: "https://aipipe.example/openai/v1"})
	if err != nil {
		t.Fatalf("compatible: %v", err)
	}
	if p.Name() != "aipipe" {
		t.Fatalf("unexpected name %q", p.Name())
	}
	if _, err := NewProvider("x", Config{Type: OpenAICompatible, APIKey: "k"}); err == nil {
		t.Fatalf("expected base_url error")
	}
	if _, err := NewProvider("x", Config{Type: OpenAI}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := NewProvider("x", Config{Type: "anthropic", APIKey: "k"}); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}
