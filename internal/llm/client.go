// Package llm holds the completion boundary: a provider-neutral client
// interface, the HTTP and Gemini implementations, and the retry helper the
// generators share.
package llm

import (
	"context"
	"errors"
)

// Request is a single completion request. Temperature is always sent;
// MaxTokens of zero means provider default.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client is the interface every completion provider implements.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// transientError marks failures worth retrying (rate limits, 5xx, transport).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
