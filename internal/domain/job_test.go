package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		max      time.Duration
		expected time.Duration
	}{
		{
			name:     "first retry",
			attempts: 1,
			expected: 2 * time.Second,
		},
		{
			name:     "second retry",
			attempts: 2,
			expected: 4 * time.Second,
		},
		{
			name:     "third retry",
			attempts: 3,
			expected: 8 * time.Second,
		},
		{
			name:     "zero attempts",
			attempts: 0,
			expected: 1 * time.Second,
		},
		{
			name:     "negative attempts clamp to zero",
			attempts: -5,
			expected: 1 * time.Second,
		},
		{
			name:     "cap applies",
			attempts: 10,
			max:      5 * time.Minute,
			expected: 5 * time.Minute,
		},
		{
			name:     "huge attempt count does not overflow",
			attempts: 500,
			max:      time.Hour,
			expected: time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Backoff(tt.attempts, tt.max))
		})
	}
}

func TestBackoff_Doubles(t *testing.T) {
	for attempts := 1; attempts < 10; attempts++ {
		prev := Backoff(attempts-1, 0)
		cur := Backoff(attempts, 0)
		assert.Equal(t, 2*prev, cur, "attempt %d", attempts)
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
}

func TestJob_CanRetry(t *testing.T) {
	job := &Job{Attempts: 2, MaxAttempts: 3}
	assert.True(t, job.CanRetry())

	job.Attempts = 3
	assert.False(t, job.CanRetry())
}

func TestJobKind_Valid(t *testing.T) {
	assert.True(t, JobKindBatchExport.Valid())
	assert.True(t, JobKindNoPlayEmail.Valid())
	assert.False(t, JobKind("resize_image").Valid())
}

func TestTabType_Valid(t *testing.T) {
	assert.True(t, TabStatement.Valid())
	assert.True(t, TabNoPlay.Valid())
	assert.False(t, TabType("summary").Valid())
}
