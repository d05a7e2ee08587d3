package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	e := NewError(ErrInvalidConfig, "missing api key")
	if got := e.Error(); got != "[INVALID_CONFIG] missing api key" {
		t.Errorf("unexpected error string: %s", got)
	}

	cause := errors.New("boom")
	e = NewError(ErrUpstreamError, "oracle call failed").WithCause(cause)
	if got := e.Error(); got != "[UPSTREAM_ERROR] oracle call failed: boom" {
		t.Errorf("unexpected error string: %s", got)
	}
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to unwrap cause")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(NewError(ErrInvalidConfig, "x")) {
		t.Error("config errors should not be retryable by default")
	}
	if !IsRetryable(NewError(ErrUpstreamTimeout, "x").WithRetryable(true)) {
		t.Error("expected retryable error")
	}
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors are never retryable")
	}
}

func TestGetErrorCode(t *testing.T) {
	if code := GetErrorCode(NewError(ErrUnknownAgent, "x")); code != ErrUnknownAgent {
		t.Errorf("unexpected code: %s", code)
	}
	if code := GetErrorCode(errors.New("plain")); code != "" {
		t.Errorf("expected empty code, got %s", code)
	}
}
