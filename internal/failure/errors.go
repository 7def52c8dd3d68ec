// Package failure defines the error taxonomy shared by every stage of a quiz run.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// NetworkError wraps a transport failure (DNS, refused or reset connections, EOF).
// It is always transient.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e NetworkError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("network error during %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e NetworkError) Unwrap() error { return e.Err }

// UpstreamRoutingError reports that the inference service could not route the
// request (unknown model endpoint, overloaded gateway, throttling). Retryable with backoff.
type UpstreamRoutingError struct {
	Provider string
	Status   int
	Message  string
}

func (e UpstreamRoutingError) Error() string {
	return fmt.Sprintf("%s upstream routing failure (status %d): %s", e.Provider, e.Status, e.Message)
}

// AuthenticationError is returned when credentials are rejected. It is fatal for the run.
type AuthenticationError struct {
	Provider string
	Status   int
	Message  string
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("%s rejected credentials (status %d): %s", e.Provider, e.Status, e.Message)
}

// RequestError is a permanent, non-credential rejection such as a malformed payload.
type RequestError struct {
	Provider string
	Status   int
	Message  string
}

func (e RequestError) Error() string {
	return fmt.Sprintf("%s rejected request (status %d): %s", e.Provider, e.Status, e.Message)
}

// MediaUnavailable is returned when a referenced media resource cannot be retrieved.
type MediaUnavailable struct {
	URL    string
	Reason string
	Err    error
}

func (e MediaUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media unavailable %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("media unavailable %s: %s", e.URL, e.Reason)
}

func (e MediaUnavailable) Unwrap() error { return e.Err }

// TaskTimeout is returned by the watchdog once a unit of work outlives its deadline.
type TaskTimeout struct {
	Deadline time.Duration
	Elapsed  time.Duration
}

func (e TaskTimeout) Error() string {
	return fmt.Sprintf("task timed out: elapsed=%s deadline=%s", e.Elapsed.Round(time.Millisecond), e.Deadline)
}

// ConfigError marks missing or malformed configuration detected before the loop starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var (
		netErr     NetworkError
		routingErr UpstreamRoutingError
	)
	switch {
	case errors.As(err, &netErr), errors.As(err, &routingErr):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsFatal reports whether err must end the whole run rather than a single task.
func IsFatal(err error) bool {
	var (
		authErr AuthenticationError
		cfgErr  ConfigError
	)
	return errors.As(err, &authErr) || errors.As(err, &cfgErr)
}

// IsTimeout reports whether err is a watchdog expiry.
func IsTimeout(err error) bool {
	var to TaskTimeout
	return errors.As(err, &to)
}

// FromTransport converts an http.Client error into the taxonomy. Context
// cancellation is passed through untouched so callers can tell it apart.
func FromTransport(op, url string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NetworkError{Op: op, URL: url, Err: err}
}

// FromStatus maps a non-2xx response from an inference service onto the
// taxonomy. 404 counts as routing because gateways answer an unroutable model
// endpoint with "resource not found".
func FromStatus(provider string, status int, msg string) error {
	switch {
	case status == 401 || status == 403:
		return AuthenticationError{Provider: provider, Status: status, Message: msg}
	case status == 404 || status == 408 || status == 429 || status >= 500:
		return UpstreamRoutingError{Provider: provider, Status: status, Message: msg}
	case strings.Contains(strings.ToLower(msg), "resource not found"):
		return UpstreamRoutingError{Provider: provider, Status: status, Message: msg}
	default:
		return RequestError{Provider: provider, Status: status, Message: msg}
	}
}
