package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPErrorRetryable(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusConflict, false},
	}

	for _, tt := range tests {
		e := &HTTPError{StatusCode: tt.status}
		if got := e.Retryable(); got != tt.retryable {
			t.Errorf("Retryable() for %d = %v, want %v", tt.status, got, tt.retryable)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &NetworkError{URL: "http://x", Err: errors.New("refused")}, true},
		{"wrapped network", fmt.Errorf("fetch: %w", &NetworkError{Err: errors.New("reset")}), true},
		{"http 500", &HTTPError{StatusCode: 500}, true},
		{"http 404", &HTTPError{StatusCode: 404}, false},
		{"validation", &ValidationError{Resource: "system/role"}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	e := &ValidationError{
		Resource: "system/limit",
		Fields: []FieldError{
			{Field: "rate", Message: "must be positive"},
			{Field: "period", Message: "unknown period"},
		},
	}
	want := "system/limit validation failed: rate: must be positive; period: unknown period"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	ne := &NetworkError{URL: "http://localhost", Err: inner}
	if !errors.Is(ne, inner) {
		t.Error("NetworkError should unwrap to inner error")
	}

	var he *HTTPError
	wrapped := fmt.Errorf("list failed: %w", &HTTPError{StatusCode: 503, Message: "down"})
	if !errors.As(wrapped, &he) {
		t.Fatal("errors.As should find HTTPError")
	}
	if he.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", he.StatusCode)
	}
}
