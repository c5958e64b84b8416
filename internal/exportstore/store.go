package exportstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dpcore/statement-service/internal/domain"
)

// Store owns the export_statuses table. Rows are created by the API when
// an export is enqueued and mutated only by the handler running the job.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates an export status store.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Create inserts a pending export status row and returns its id.
func (s *Store) Create(ctx context.Context, tab domain.TabType, totalMembers int) (string, error) {
	id := uuid.New().String()

	query := `
		INSERT INTO export_statuses (id, tab_type, status, total_members, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`

	_, err := s.db.ExecContext(ctx, query, id, tab, domain.JobStatusPending, totalMembers)
	if err != nil {
		return "", fmt.Errorf("failed to create export status: %w", err)
	}

	s.logger.Info("Export status created",
		slog.String("export_id", id),
		slog.String("tab_type", string(tab)),
		slog.Int("total_members", totalMembers),
	)

	return id, nil
}

// Get retrieves an export status row by id.
func (s *Store) Get(ctx context.Context, exportID string) (*domain.ExportStatus, error) {
	query := `
		SELECT id, tab_type, status, total_members, processed_members, failed_members,
		       file_path, file_size, error_message, started_at, completed_at, created_at, updated_at
		FROM export_statuses
		WHERE id = $1
	`

	var es domain.ExportStatus
	err := s.db.GetContext(ctx, &es, query, exportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrExportNotFound
		}
		return nil, fmt.Errorf("failed to get export status: %w", err)
	}

	return &es, nil
}

// MarkProcessing flags the export as started. Progress counters and the
// error message are reset so a retried job begins a fresh monotonic
// series instead of stacking deltas on top of the previous attempt's.
func (s *Store) MarkProcessing(ctx context.Context, exportID string) error {
	query := `
		UPDATE export_statuses
		SET status = $2,
		    processed_members = 0,
		    failed_members = 0,
		    error_message = '',
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, exportID, domain.JobStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark export as processing: %w", err)
	}

	return nil
}

// AddProgress adds a finished chunk's counts. Counters only ever grow, so
// pollers see monotonically increasing progress.
func (s *Store) AddProgress(ctx context.Context, exportID string, processed, failed int) error {
	if processed < 0 || failed < 0 {
		return fmt.Errorf("progress deltas must be non-negative (processed=%d, failed=%d)", processed, failed)
	}

	query := `
		UPDATE export_statuses
		SET processed_members = processed_members + $2,
		    failed_members = failed_members + $3,
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, exportID, processed, failed); err != nil {
		return fmt.Errorf("failed to update export progress: %w", err)
	}

	s.logger.Debug("Export progress updated",
		slog.String("export_id", exportID),
		slog.Int("processed_delta", processed),
		slog.Int("failed_delta", failed),
	)

	return nil
}

// Complete records the finished archive and flags the export completed.
func (s *Store) Complete(ctx context.Context, exportID, filePath string, fileSize int64) error {
	query := `
		UPDATE export_statuses
		SET status = $2,
		    file_path = $3,
		    file_size = $4,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, exportID, domain.JobStatusCompleted, filePath, fileSize); err != nil {
		return fmt.Errorf("failed to complete export status: %w", err)
	}

	s.logger.Info("Export completed",
		slog.String("export_id", exportID),
		slog.String("file_path", filePath),
		slog.Int64("file_size", fileSize),
	)

	return nil
}

// MarkFailed flags the export failed with the given reason.
func (s *Store) MarkFailed(ctx context.Context, exportID, errMsg string) error {
	query := `
		UPDATE export_statuses
		SET status = $2,
		    error_message = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, exportID, domain.JobStatusFailed, errMsg); err != nil {
		return fmt.Errorf("failed to mark export as failed: %w", err)
	}

	return nil
}

// MarkCancelled flags the export cancelled. Progress counters keep
// whatever the handler reached before stopping.
func (s *Store) MarkCancelled(ctx context.Context, exportID string) error {
	query := `
		UPDATE export_statuses
		SET status = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, exportID, domain.JobStatusCancelled); err != nil {
		return fmt.Errorf("failed to mark export as cancelled: %w", err)
	}

	s.logger.Info("Export cancelled",
		slog.String("export_id", exportID),
	)

	return nil
}
