package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("connection refused")
	err := NewError(ErrTransient, "inbox unavailable").
		WithCause(root).
		WithRetryable(true).
		WithAgent("risk-analyzer")

	if GetErrorCode(err) != ErrTransient {
		t.Fatalf("expected code %s, got %s", ErrTransient, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedExtraction(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCircuitOpen, "destination risk-analyzer open")
	wrapped := fmt.Errorf("route failed: %w", inner)

	if GetErrorCode(wrapped) != ErrCircuitOpen {
		t.Fatalf("expected code extracted through wrapping, got %q", GetErrorCode(wrapped))
	}
	if IsRetryable(wrapped) {
		t.Fatalf("circuit-open must not be retryable")
	}
}

func TestError_NonStructured(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain")
	if GetErrorCode(plain) != "" {
		t.Fatalf("expected empty code for plain error")
	}
	if IsRetryable(plain) {
		t.Fatalf("plain errors are not retryable")
	}
}
