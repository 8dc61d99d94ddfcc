package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies an error for retry decisions
type Kind string

const (
	// Transient errors (timeouts, rate limits, 5xx) are retried with backoff
	Transient Kind = "transient"
	// Invalid errors (malformed provider or AI responses) are logged and never retried
	Invalid Kind = "invalid"
	// Configuration errors (missing keyword, missing credentials) surface immediately
	Configuration Kind = "configuration"
	// NotFound means the referenced entity vanished between enqueue and processing
	NotFound Kind = "not_found"
)

var (
	ErrNoKeyword           = errors.New("sync setting has no keyword")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrInvalidResponse     = errors.New("invalid response")
	ErrTimeout             = errors.New("timeout")
	ErrMissingCredentials  = errors.New("missing credentials")
	ErrNotFound            = errors.New("not found")
)

// Error carries a classification alongside the underlying cause
type Error struct {
	Kind       Kind
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transientf(op string, err error) *Error     { return New(Transient, op, err) }
func Invalidf(op string, err error) *Error       { return New(Invalid, op, err) }
func Configurationf(op string, err error) *Error { return New(Configuration, op, err) }
func NotFoundf(op string, err error) *Error      { return New(NotFound, op, err) }

// RateLimited builds a transient error that asks the queue to wait at least after
func RateLimited(op string, after time.Duration) *Error {
	return &Error{Kind: Transient, Op: op, Err: ErrRateLimited, RetryAfter: after}
}

// KindOf classifies err. Unclassified errors are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrNoKeyword), errors.Is(err, ErrMissingCredentials):
		return Configuration
	case errors.Is(err, ErrInvalidResponse):
		return Invalid
	case errors.Is(err, ErrNotFound):
		return NotFound
	}
	return Transient
}

// RetryAfter returns the provider-requested delay carried by err, if any
func RetryAfter(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// Retryable reports whether the queue should re-append the work item
func Retryable(err error) bool {
	return KindOf(err) == Transient
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// FromHTTPStatus classifies an unsuccessful HTTP status code
func FromHTTPStatus(op string, status int, retryAfter time.Duration) error {
	switch {
	case status == 429:
		return RateLimited(op, retryAfter)
	case status == 401 || status == 403:
		return Configurationf(op, fmt.Errorf("%w: status %d", ErrMissingCredentials, status))
	case status == 404:
		return NotFoundf(op, fmt.Errorf("%w: status %d", ErrNotFound, status))
	case status == 408 || status >= 500:
		return Transientf(op, fmt.Errorf("%w: status %d", ErrProviderUnavailable, status))
	default:
		return Invalidf(op, fmt.Errorf("%w: status %d", ErrInvalidResponse, status))
	}
}
