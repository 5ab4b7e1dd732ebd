// Package apierror defines the error types surfaced by the data layer and the
// classification rules the fetch retry policy relies on.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NetworkError wraps a transport-level failure: the request never produced an
// HTTP response. Always retryable.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError carries a non-2xx response together with the decoded DreamFactory
// error payload, when one was present.
type HTTPError struct {
	StatusCode int
	Code       int
	Message    string
	Context    json.RawMessage
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the response class is worth retrying. Client
// errors are terminal except for timeouts and throttling.
func (e *HTTPError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// FieldError describes a single rejected field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError is a client-side schema rejection. It is produced before a
// request is sent and is never retried.
type ValidationError struct {
	Resource string
	Fields   []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%s validation failed: %s", e.Resource, strings.Join(msgs, "; "))
}

// StaleWriteConflict records that an optimistic patch on a cache key was
// superseded by a fresher read before the mutation committed. The conflict is
// self-resolving: the committed server value wins over the optimistic one.
type StaleWriteConflict struct {
	Key string
}

func (e *StaleWriteConflict) Error() string {
	return fmt.Sprintf("optimistic write on %q superseded by a fresher read", e.Key)
}

// IsRetryable classifies an error for the bounded retry policy. Validation
// errors, context cancellation, and terminal HTTP statuses stop the loop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	return false
}
