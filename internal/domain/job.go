package domain

import (
	"fmt"
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobKind discriminates which handler a job is dispatched to.
type JobKind string

const (
	JobKindBatchExport JobKind = "batch_export"
	JobKindNoPlayEmail JobKind = "no_play_email"
)

// Valid reports whether the kind is one the dispatcher knows about.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindBatchExport, JobKindNoPlayEmail:
		return true
	}
	return false
}

// TabType identifies the document family an export produces.
type TabType string

const (
	TabStatement TabType = "statement"
	TabNoPlay    TabType = "no_play"
)

// Valid reports whether the tab type is known.
func (t TabType) Valid() bool {
	return t == TabStatement || t == TabNoPlay
}

// Job is a durable unit of asynchronous work with retry semantics.
type Job struct {
	ID           string     `db:"id"`
	QueueName    string     `db:"queue_name"`
	Kind         JobKind    `db:"job_type"`
	Status       JobStatus  `db:"status"`
	Priority     int        `db:"priority"`
	Attempts     int        `db:"attempts"`
	MaxAttempts  int        `db:"max_attempts"`
	Payload      []byte     `db:"payload"`
	Result       []byte     `db:"result"`
	ErrorMessage string     `db:"error_message"`
	RunAt        *time.Time `db:"run_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// String returns a short representation for logs.
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, Kind: %s, Status: %s, Attempts: %d/%d}",
		j.ID, j.Kind, j.Status, j.Attempts, j.MaxAttempts)
}

// CanRetry reports whether the job has attempts left.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// maxBackoffShift bounds the exponent so the shift cannot overflow.
const maxBackoffShift = 30

// Backoff returns the retry delay after the given number of attempts:
// 2^attempts seconds, clamped to max when max > 0.
func Backoff(attempts int, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if max > 0 && d > max {
		d = max
	}
	return d
}
