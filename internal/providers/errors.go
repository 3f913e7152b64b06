// Package providers defines the provider capability layer: the interfaces
// the engine uses to reach market data and model inference, the typed error
// taxonomy every implementation maps wire failures into, and the
// circuit-breaker-backed health registry behind /api/health/sources.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a provider failure for retry and surfacing decisions.
type Kind int

const (
	// KindTransient failures (rate limit, 5xx, timeout, network) are retried.
	KindTransient Kind = iota
	// KindNotImplemented failures (404/405/501) are skipped on optional steps.
	KindNotImplemented
	// KindFatal failures are surfaced immediately and never retried.
	KindFatal
	// KindCancelled marks cooperative cancellation. Never retried.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotImplemented:
		return "not_implemented"
	case KindFatal:
		return "fatal"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Op       string
	Status   int // HTTP status when known, 0 otherwise
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: %s (http %d): %v", e.Provider, e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error with an explicit kind.
func NewError(kind Kind, provider, op string, status int, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Status: status, Err: err}
}

// ClassifyHTTP maps an HTTP status code to the error taxonomy.
func ClassifyHTTP(provider, op string, status int, err error) *Error {
	var kind Kind
	switch {
	case status == 429 || status >= 500 && status != 501:
		kind = KindTransient
	case status == 404 || status == 405 || status == 501:
		kind = KindNotImplemented
	default:
		kind = KindFatal
	}
	return &Error{Kind: kind, Provider: provider, Op: op, Status: status, Err: err}
}

// ClassifyErr maps a transport-level error (no HTTP status) to the taxonomy.
// Context cancellation maps to Cancelled, deadlines and network errors to
// Transient, everything else to Fatal.
func ClassifyErr(provider, op string, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Provider: provider, Op: op, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransient, Provider: provider, Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindTransient, Provider: provider, Op: op, Err: err}
	}
	return &Error{Kind: KindFatal, Provider: provider, Op: op, Err: err}
}

// KindOf extracts the classification of err, defaulting to Fatal for
// unclassified errors. Cancellation is recognized even when the error was
// never wrapped by a provider.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsCancelled reports whether err is cooperative cancellation.
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }
