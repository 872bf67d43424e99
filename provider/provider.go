// Package provider gives a uniform call contract over heterogeneous model
// backends. Each backend variant classifies its own failures as transient or
// fatal; the orchestrator's retry policy is driven entirely by that tag.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// GenConfig carries per-call generation settings.
type GenConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response is the uniform result of one model call.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Latency          time.Duration
}

// Client is the capability contract every backend variant implements.
type Client interface {
	// Generate sends a single-turn prompt. Errors are TransientError or
	// FatalError; anything else is treated as fatal by callers.
	Generate(ctx context.Context, prompt string, cfg GenConfig) (*Response, error)
	// Name identifies the backend variant for logging and metrics labels.
	Name() string
}

// TransientError marks failures worth retrying: timeouts, rate limits,
// upstream 5xx.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks failures that will recur identically on every call for
// the same agent: auth rejection, unknown model, malformed request.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal provider error: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is tagged transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is tagged fatal.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyStatus maps an HTTP status to the error taxonomy. Request timeouts,
// throttling and server-side errors are transient; client-side rejections
// (bad credential, unknown model) are fatal.
func classifyStatus(provider string, status int, err error) error {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Provider: provider, Err: err}
	default:
		return &FatalError{Provider: provider, Err: err}
	}
}

// classifyTransport tags transport-level failures. Context cancellation is
// passed through untouched so cancelled runs are not retried.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientError{Provider: provider, Err: err}
}
