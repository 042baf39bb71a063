package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("some error"),
			expected: false,
		},
		{
			name:     "generic not found",
			err:      ErrNotFound,
			expected: true,
		},
		{
			name:     "job not found",
			err:      ErrJobNotFound,
			expected: true,
		},
		{
			name:     "message not found",
			err:      ErrMessageNotFound,
			expected: true,
		},
		{
			name:     "work item not found",
			err:      ErrWorkItemNotFound,
			expected: true,
		},
		{
			name:     "wrapped not found",
			err:      fmt.Errorf("failed to load message: %w", ErrMessageNotFound),
			expected: true,
		},
		{
			name:     "duplicate is not a not-found",
			err:      ErrDuplicate,
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNotFoundError(tc.err); got != tc.expected {
				t.Errorf("IsNotFoundError(%v) = %v, want %v", tc.err, got, tc.expected)
			}
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	if !IsDuplicateError(ErrDuplicate) {
		t.Error("Expected ErrDuplicate to be a duplicate error")
	}
	if !IsDuplicateError(fmt.Errorf("insert failed: %w", ErrDuplicate)) {
		t.Error("Expected wrapped ErrDuplicate to be a duplicate error")
	}
	if IsDuplicateError(ErrNotFound) {
		t.Error("Expected ErrNotFound not to be a duplicate error")
	}
}

func TestStoreError(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewStoreError("job", "claim", "query failed", inner)

	if got := err.Error(); got != "claim operation on job failed: query failed: connection reset" {
		t.Errorf("Unexpected error string: %q", got)
	}

	if !errors.Is(err, inner) {
		t.Error("Expected StoreError to unwrap to the inner error")
	}

	bare := NewStoreError("message", "create", "validation failed", nil)
	if got := bare.Error(); got != "create operation on message failed: validation failed" {
		t.Errorf("Unexpected error string: %q", got)
	}
}
