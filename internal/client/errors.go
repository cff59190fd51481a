package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind buckets a failed operation for presentation. Every user-visible
// failure message is keyed off one of these.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNetwork
	KindTimeout
	KindCancelled
	KindBackendUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindBackendUnavailable:
		return "backend_unavailable"
	default:
		return "unknown"
	}
}

// Error is the classified form every client operation returns on failure.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPError carries a non-2xx response through classification.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Classify maps an arbitrary operation error onto the failure taxonomy.
// Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Message: "operation cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "operation timed out", Err: err}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 503:
			return &Error{Kind: KindBackendUnavailable, Message: httpErr.Body, StatusCode: httpErr.StatusCode, Err: err}
		case httpErr.StatusCode >= 400 && httpErr.StatusCode < 500:
			return &Error{Kind: KindValidation, Message: httpErr.Body, StatusCode: httpErr.StatusCode, Err: err}
		default:
			return &Error{Kind: KindNetwork, Message: httpErr.Body, StatusCode: httpErr.StatusCode, Err: err}
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof") {
		return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
	}

	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}

// IsCancelled reports whether err represents a user-initiated cancellation.
// Cancellation is an outcome, not a failure; callers must never surface it
// through an error path.
func IsCancelled(err error) bool {
	c := Classify(err)
	return c != nil && c.Kind == KindCancelled
}

// IsTimeout reports whether err is specifically a timeout.
func IsTimeout(err error) bool {
	c := Classify(err)
	return c != nil && c.Kind == KindTimeout
}
