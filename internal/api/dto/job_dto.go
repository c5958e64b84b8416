package dto

import "encoding/json"

// ListJobsRequest holds the query parameters for GET /api/v1/jobs.
type ListJobsRequest struct {
	Queue    string `form:"queue"`
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse pages through jobs newest first.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the external view of a queue job.
type JobDTO struct {
	JobID        string          `json:"job_id"`
	QueueName    string          `json:"queue_name"`
	JobType      string          `json:"job_type"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RunAt        string          `json:"run_at,omitempty"`
	StartedAt    string          `json:"started_at,omitempty"`
	CompletedAt  string          `json:"completed_at,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// QueueStatsResponse reports job counts per status for one queue.
type QueueStatsResponse struct {
	Queue  string         `json:"queue"`
	Counts map[string]int `json:"counts"`
}
