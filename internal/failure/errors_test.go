package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", NetworkError{Op: "GET", Err: io.ErrUnexpectedEOF}, true},
		{"routing wrapped", fmt.Errorf("attempt 1: %w", UpstreamRoutingError{Provider: "gemini", Status: 404}), true},
		{"auth", AuthenticationError{Provider: "openai", Status: 401}, false},
		{"request", RequestError{Provider: "openai", Status: 400}, false},
		{"timeout", TaskTimeout{Deadline: time.Second}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("wrap: %w", AuthenticationError{Provider: "openai"})) {
		t.Fatalf("expected wrapped auth error to be fatal")
	}
	if !IsFatal(ConfigError{Field: "llm.api_key", Reason: "missing"}) {
		t.Fatalf("expected config error to be fatal")
	}
	if IsFatal(MediaUnavailable{URL: "https://x/y.png", Reason: "404"}) {
		t.Fatalf("media errors are task scoped")
	}
}

func TestFromTransportKeepsContextErrors(t *testing.T) {
	if err := FromTransport("GET", "u", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled passthrough, got %v", err)
	}
	err := FromTransport("GET", "u", io.EOF)
	var netErr NetworkError
	if !errors.As(err, &netErr) || !errors.Is(err, io.EOF) {
		t.Fatalf("expected NetworkError wrapping EOF, got %v", err)
	}
}

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status    int
		msg       string
		transient bool
		fatal     bool
	}{
		{401, "bad key", false, true},
		{403, "forbidden", false, true},
		{404, "model not found", true, false},
		{429, "slow down", true, false},
		{503, "overloaded", true, false},
		{400, "Resource not found for deployment", true, false},
		{400, "invalid image", false, false},
	}
	for _, tc := range cases {
		err := FromStatus("openai", tc.status, tc.msg)
		if IsTransient(err) != tc.transient || IsFatal(err) != tc.fatal {
			t.Fatalf("status %d: transient=%v fatal=%v (%v)", tc.status, IsTransient(err), IsFatal(err), err)
		}
	}
}
