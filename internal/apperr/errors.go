package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind classifies engine failures for callers and HTTP mapping.
type Kind string

const (
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindInvalidLocation     Kind = "INVALID_LOCATION"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindAllCandidatesFailed Kind = "ALL_CANDIDATES_FAILED"
	KindComputeTimeout      Kind = "COMPUTE_TIMEOUT"
	KindInternal            Kind = "INTERNAL"
)

// Cause records why one attempted algorithm or provider did not produce a candidate.
type Cause struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// AppError is the single structured error surfaced by the engine.
type AppError struct {
	Kind    Kind    `json:"kind"`
	Message string  `json:"message"`
	Causes  []Cause `json:"causes,omitempty"`
	Err     error   `json:"-"`
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	for _, c := range e.Causes {
		fmt.Fprintf(&b, "; %s: %s", c.Source, c.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput, KindInvalidLocation:
		return http.StatusBadRequest
	case KindProviderUnavailable, KindAllCandidatesFailed:
		return http.StatusServiceUnavailable
	case KindComputeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Wrap attaches an underlying error.
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

func New(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *AppError {
	return New(KindInvalidInput, format, args...)
}

func InvalidLocation(index int, lat, lng float64) *AppError {
	return New(KindInvalidLocation, "point %d has invalid coordinates (%v, %v)", index, lat, lng)
}

func ProviderUnavailable(provider string, err error) *AppError {
	return New(KindProviderUnavailable, "%s is unavailable", provider).Wrap(err)
}

func ComputeTimeout(source string, budget time.Duration) *AppError {
	return New(KindComputeTimeout, "%s exceeded compute budget of %s", source, budget)
}

func AllCandidatesFailed(causes []Cause) *AppError {
	e := New(KindAllCandidatesFailed, "no optimization candidate completed")
	e.Causes = causes
	return e
}

// As extracts an AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries an AppError of the given kind.
func Is(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

// From returns err as an *AppError. Context expiry becomes a compute timeout and anything
// else unclassified is internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(KindComputeTimeout, "request ended before optimization finished").Wrap(err)
	}
	return New(KindInternal, "internal error").Wrap(err)
}
