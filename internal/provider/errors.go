package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a stream failure for retry decisions.
type ErrorKind string

const (
	// KindTimeout covers request and read deadlines. Retryable.
	KindTimeout ErrorKind = "timeout"

	// KindRateLimited covers 429 responses. Retryable, may carry RetryAfter.
	KindRateLimited ErrorKind = "rate_limited"

	// KindServer covers 5xx responses. Retryable.
	KindServer ErrorKind = "server"

	// KindConnection covers resets and transport failures. Retryable.
	KindConnection ErrorKind = "connection"

	// KindAuth covers 401/403 responses. Terminal.
	KindAuth ErrorKind = "auth"

	// KindBadRequest covers 400 responses. Terminal.
	KindBadRequest ErrorKind = "bad_request"

	// KindModelNotFound covers unknown-model responses. Terminal.
	KindModelNotFound ErrorKind = "model_not_found"
)

// StreamError is a classified provider failure.
type StreamError struct {
	Kind ErrorKind

	// RetryAfter is an explicit server-provided delay hint, when present.
	RetryAfter time.Duration

	Cause error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("provider %s", e.Kind)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is transient.
func (e *StreamError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindServer, KindConnection:
		return true
	default:
		return false
	}
}

// NewStreamError builds a classified stream error.
func NewStreamError(kind ErrorKind, cause error) *StreamError {
	return &StreamError{Kind: kind, Cause: cause}
}

// Retryable reports whether err is a transient provider failure.
// Unclassified errors are treated as terminal.
func Retryable(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// RetryAfterHint extracts an explicit retry-after delay, when the server
// provided one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var se *StreamError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}
