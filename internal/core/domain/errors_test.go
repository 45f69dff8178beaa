package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapErrorPreservesKind(t *testing.T) {
	wrapped := WrapError(ErrValidation, "validate file", errors.New("file is empty"))
	if !IsKind(wrapped, ErrValidation) {
		t.Fatalf("expected validation kind, got %v", wrapped)
	}
	if IsKind(wrapped, ErrTransient) {
		t.Fatalf("validation error must not match transient")
	}
	rewrapped := fmt.Errorf("process file: %w", wrapped)
	if !IsKind(rewrapped, ErrValidation) {
		t.Fatalf("kind lost after rewrapping: %v", rewrapped)
	}
}

func TestIsUsageError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{WrapError(ErrJobNotFound, "fetch job", errors.New("id x")), true},
		{WrapError(ErrProcessorNotFound, "resolve", errors.New("name y")), true},
		{WrapError(ErrInvalidState, "retry", errors.New("not failed")), true},
		{WrapError(ErrValidation, "validate", errors.New("bad type")), false},
		{WrapError(ErrTransient, "embed", errors.New("timeout")), false},
	}
	for _, tc := range cases {
		if got := IsUsageError(tc.err); got != tc.want {
			t.Fatalf("IsUsageError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
