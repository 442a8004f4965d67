package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCacheError_Error(t *testing.T) {
	if got := ErrInvalidKey.Error(); got != "invalid cache key" {
		t.Errorf("unexpected message: %q", got)
	}

	wrapped := ErrRefreshFailed.Wrap(fmt.Errorf("connection reset"))
	want := "refresh failed: connection reset"
	if got := wrapped.Error(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCacheError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := ErrRefreshFailed.Wrap(cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestCacheError_IsMatchesOnCode(t *testing.T) {
	err := ErrInvalidKey.WithDetail("key %q", "")
	if !errors.Is(err, ErrInvalidKey) {
		t.Error("detail copy should still match its sentinel")
	}
	if errors.Is(err, ErrTaskNotFound) {
		t.Error("different codes must not match")
	}
}

func TestIsInvalidArgument(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sentinel", ErrInvalidTTL, true},
		{"one-off", InvalidArgument("bad %s", "input"), true},
		{"wrapped", fmt.Errorf("outer: %w", ErrInvalidNamespace), true},
		{"other code", ErrTaskNotFound, false},
		{"plain error", fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsInvalidArgument(tt.err); got != tt.want {
				t.Errorf("IsInvalidArgument(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
