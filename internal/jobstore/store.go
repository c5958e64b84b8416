package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dpcore/statement-service/internal/domain"
)

// Store owns the jobs table and the pending → processing → terminal
// transitions. All claim contention is resolved inside PostgreSQL with
// row locks, so any number of Store instances can share one table.
type Store struct {
	db          *sqlx.DB
	logger      *slog.Logger
	maxBackoff  time.Duration
	maxAttempts int
}

// NewStore creates a job store. maxBackoff caps the retry delay, 0 leaves
// the exponential series unbounded. defaultMaxAttempts applies to enqueued
// jobs that do not set their own limit; values below 1 fall back to 3.
func NewStore(db *sqlx.DB, logger *slog.Logger, maxBackoff time.Duration, defaultMaxAttempts int) *Store {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	return &Store{
		db:          db,
		logger:      logger,
		maxBackoff:  maxBackoff,
		maxAttempts: defaultMaxAttempts,
	}
}

// EnqueueOptions tune a single enqueue call. Zero values fall back to
// the queue defaults.
type EnqueueOptions struct {
	QueueName   string
	Priority    int
	MaxAttempts int
	RunAt       *time.Time
	Delay       time.Duration
}

// Enqueue creates a pending job row and returns its id. The payload must
// be JSON-serializable.
func (s *Store) Enqueue(ctx context.Context, kind domain.JobKind, payload any, opts EnqueueOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	if opts.QueueName == "" {
		opts.QueueName = "default"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = s.maxAttempts
	}

	runAt := opts.RunAt
	if runAt == nil && opts.Delay > 0 {
		t := time.Now().Add(opts.Delay)
		runAt = &t
	}

	id := uuid.New().String()

	query := `
		INSERT INTO jobs (id, queue_name, job_type, status, priority, attempts, max_attempts, payload, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, NOW(), NOW())
	`

	_, err = s.db.ExecContext(ctx, query,
		id, opts.QueueName, kind, domain.JobStatusPending, opts.Priority, opts.MaxAttempts, raw, runAt)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", id),
		slog.String("queue", opts.QueueName),
		slog.String("kind", string(kind)),
		slog.Int("priority", opts.Priority),
	)

	return id, nil
}

// ClaimNext atomically claims the next eligible job on the queue:
// highest priority first, oldest first within a priority. Rows locked by
// concurrent claimers are skipped, so no job is ever handed to two
// callers. Returns (nil, nil) when the queue is empty.
func (s *Store) ClaimNext(ctx context.Context, queueName string) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id
		FROM jobs
		WHERE queue_name = $1
		  AND status = $2
		  AND (run_at IS NULL OR run_at <= NOW())
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var id string
	err = tx.QueryRowContext(ctx, selectQuery, queueName, domain.JobStatusPending).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select pending job: %w", err)
	}

	updateQuery := `
		UPDATE jobs
		SET status = $2,
		    attempts = attempts + 1,
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, queue_name, job_type, status, priority, attempts, max_attempts,
		          payload, COALESCE(result, 'null'::jsonb), error_message,
		          run_at, started_at, completed_at, created_at, updated_at
	`

	job, err := scanJob(tx.QueryRowContext(ctx, updateQuery, id, domain.JobStatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to mark job as processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Int("attempt", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	return job, nil
}

// Complete marks a processing job as completed and stores its result.
// A job in any other state is left untouched.
func (s *Store) Complete(ctx context.Context, jobID string, result []byte) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    result = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusCompleted, nullableJSON(result), domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Warn("Complete skipped - job not in processing state",
			slog.String("job_id", jobID),
		)
		return nil
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
	)

	return nil
}

// Fail records a failure. When retryAllowed and attempts remain, the job
// goes back to pending with an exponential backoff delay (2^attempts
// seconds); otherwise it becomes terminally failed. A job no longer in
// processing (cancelled while the handler ran) is left untouched.
func (s *Store) Fail(ctx context.Context, jobID string, errMsg string, retryAllowed bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	var status domain.JobStatus
	err = tx.QueryRowContext(ctx,
		`SELECT attempts, max_attempts, status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).
		Scan(&attempts, &maxAttempts, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to load job for failure: %w", err)
	}

	if status != domain.JobStatusProcessing {
		s.logger.Warn("Fail skipped - job not in processing state",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
		)
		return nil
	}

	if retryAllowed && attempts < maxAttempts {
		delay := domain.Backoff(attempts, s.maxBackoff)

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $2,
			    error_message = $3,
			    started_at = NULL,
			    run_at = NOW() + ($4 * INTERVAL '1 second'),
			    updated_at = NOW()
			WHERE id = $1
		`, jobID, domain.JobStatusPending, errMsg, delay.Seconds())
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit retry: %w", err)
		}

		s.logger.Info("Job failed, will retry",
			slog.String("job_id", jobID),
			slog.Int("attempts", attempts),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("backoff", delay),
			slog.String("error", errMsg),
		)
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    error_message = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, jobID, domain.JobStatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark job as failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure: %w", err)
	}

	s.logger.Warn("Job permanently failed",
		slog.String("job_id", jobID),
		slog.Int("attempts", attempts),
		slog.String("error", errMsg),
	)

	return nil
}

// Cancel transitions a pending or processing job to cancelled. A running
// handler observes the new status between chunks and stops early.
func (s *Store) Cancel(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`

	res, err := s.db.ExecContext(ctx, query,
		jobID, domain.JobStatusCancelled, domain.JobStatusPending, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID); err != nil {
			return fmt.Errorf("failed to check job existence: %w", err)
		}
		if !exists {
			return domain.ErrJobNotFound
		}
		return domain.ErrJobNotCancellable
	}

	s.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
	)

	return nil
}

// IsCancelled reports whether the job row has been cancelled. Handlers
// call this between chunks.
func (s *Store) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	var status domain.JobStatus
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrJobNotFound
		}
		return false, fmt.Errorf("failed to read job status: %w", err)
	}
	return status == domain.JobStatusCancelled, nil
}

// Stats returns the number of jobs per status on the queue.
func (s *Store) Stats(ctx context.Context, queueName string) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE queue_name = $1 GROUP BY status`, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[domain.JobStatus]int{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusCompleted:  0,
		domain.JobStatusFailed:     0,
		domain.JobStatusCancelled:  0,
	}

	for rows.Next() {
		var status domain.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats rows: %w", err)
	}

	return stats, nil
}

// ReclaimStale resets processing jobs whose started_at is older than
// olderThan back to pending, without consuming an attempt. This recovers
// jobs orphaned by a worker crash. excludeIDs lists jobs the caller is
// still running itself, so a slow but live job does not end up with two
// executors.
func (s *Store) ReclaimStale(ctx context.Context, queueName string, olderThan time.Duration, excludeIDs []string) (int, error) {
	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	query := `
		UPDATE jobs
		SET status = $2,
		    started_at = NULL,
		    attempts = attempts - 1,
		    updated_at = NOW()
		WHERE queue_name = $1
		  AND status = $3
		  AND started_at < NOW() - ($4 * INTERVAL '1 second')
		  AND id <> ALL($5::uuid[])
	`

	res, err := s.db.ExecContext(ctx, query,
		queueName, domain.JobStatusPending, domain.JobStatusProcessing, olderThan.Seconds(), pq.Array(excludeIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Warn("Reclaimed stale jobs",
			slog.String("queue", queueName),
			slog.Int64("count", n),
		)
	}

	return int(n), nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT id, queue_name, job_type, status, priority, attempts, max_attempts,
		       payload, COALESCE(result, 'null'::jsonb), error_message,
		       run_at, started_at, completed_at, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// Filter narrows a ListJobs call.
type Filter struct {
	QueueName string
	Kind      domain.JobKind
	Status    domain.JobStatus
	PageSize  int
	Cursor    *Cursor
}

// Cursor marks the position of the last row of the previous page.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs ordered newest first; the extra
// row tells the caller whether another page exists.
func (s *Store) ListJobs(ctx context.Context, filter Filter) ([]*domain.Job, error) {
	query := `
		SELECT id, queue_name, job_type, status, priority, attempts, max_attempts,
		       payload, COALESCE(result, 'null'::jsonb), error_message,
		       run_at, started_at, completed_at, created_at, updated_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.QueueName != "" {
		query += fmt.Sprintf(" AND queue_name = $%d", argIdx)
		args = append(args, filter.QueueName)
		argIdx++
	}

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var result []byte
	var runAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.QueueName, &job.Kind, &job.Status, &job.Priority,
		&job.Attempts, &job.MaxAttempts, &job.Payload, &result, &job.ErrorMessage,
		&runAt, &startedAt, &completedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if string(result) != "null" {
		job.Result = result
	}
	if runAt.Valid {
		job.RunAt = &runAt.Time
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
