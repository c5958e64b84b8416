package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	base := errors.New("connection refused")

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "plain error",
			err:      base,
			expected: false,
		},
		{
			name:     "wrapped as retryable",
			err:      NewRetryableError(base),
			expected: true,
		},
		{
			name:     "retryable buried in chain",
			err:      fmt.Errorf("handler: %w", NewRetryableError(base)),
			expected: true,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "sentinel error",
			err:      ErrJobCancelled,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestRetryableError_Unwrap(t *testing.T) {
	base := errors.New("timeout")
	err := NewRetryableError(base)

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "retryable error")
	assert.Contains(t, err.Error(), "timeout")
}
