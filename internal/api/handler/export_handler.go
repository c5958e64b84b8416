package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dpcore/statement-service/internal/api/dto"
	"github.com/dpcore/statement-service/internal/domain"
	"github.com/dpcore/statement-service/internal/exportstore"
	"github.com/dpcore/statement-service/internal/filestore"
	"github.com/dpcore/statement-service/internal/jobstore"
	"github.com/dpcore/statement-service/internal/metrics"
	"github.com/dpcore/statement-service/shared/rabbitmq"
)

// ExportHandler handles export-related HTTP requests.
type ExportHandler struct {
	logger       *slog.Logger
	jobs         *jobstore.Store
	exports      *exportstore.Store
	files        filestore.Store
	rabbitClient *rabbitmq.Client
	queue        string
}

// NewExportHandler creates a new ExportHandler instance.
func NewExportHandler(deps *Dependencies) *ExportHandler {
	return &ExportHandler{
		logger:       deps.Logger,
		jobs:         deps.Jobs,
		exports:      deps.Exports,
		files:        deps.Files,
		rabbitClient: deps.RabbitClient,
		queue:        deps.Queue,
	}
}

// CreateExport handles POST /api/v1/exports.
// Creates the export status record, enqueues the batch export job, and
// nudges the worker when a broker is configured.
func (h *ExportHandler) CreateExport(c *gin.Context) {
	var req dto.CreateExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	tab := domain.TabType(req.TabType)
	if !tab.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("tab_type must be one of: %s, %s", domain.TabStatement, domain.TabNoPlay),
		})
		return
	}
	if len(req.Members) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "members list must not be empty",
		})
		return
	}

	ctx := c.Request.Context()

	exportID, err := h.exports.Create(ctx, tab, len(req.Members))
	if err != nil {
		h.logger.Error("Failed to create export status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create export",
		})
		return
	}

	members := make([]domain.Member, len(req.Members))
	for i, m := range req.Members {
		members[i] = domain.Member{
			Account:  m.Account,
			BatchRef: m.BatchRef,
			Name:     m.Name,
		}
	}

	payload := domain.BatchExportPayload{
		ExportID: exportID,
		Tab:      tab,
		Members:  members,
	}

	jobID, err := h.jobs.Enqueue(ctx, domain.JobKindBatchExport, payload, jobstore.EnqueueOptions{
		QueueName:   h.queue,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		h.logger.Error("Failed to enqueue export job", slog.String("error", err.Error()))
		if mErr := h.exports.MarkFailed(ctx, exportID, "failed to enqueue job"); mErr != nil {
			h.logger.Error("Failed to mark export failed", slog.String("error", mErr.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue export job",
		})
		return
	}

	metrics.JobsEnqueuedTotal.Inc()
	h.nudgeWorker(c, jobID)

	c.JSON(http.StatusAccepted, dto.CreateExportResponse{
		ExportID: exportID,
		JobID:    jobID,
		Status:   string(domain.JobStatusPending),
	})
}

// GetExport handles GET /api/v1/exports/:export_id.
func (h *ExportHandler) GetExport(c *gin.Context) {
	exportID := c.Param("export_id")
	if _, err := uuid.Parse(exportID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "export_id must be a valid UUID",
		})
		return
	}

	es, err := h.exports.Get(c.Request.Context(), exportID)
	if err != nil {
		if errors.Is(err, domain.ErrExportNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Export not found",
			})
			return
		}
		h.logger.Error("Failed to get export status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get export",
		})
		return
	}

	resp := dto.ExportStatusResponse{
		ExportID:         es.ID,
		TabType:          string(es.TabType),
		Status:           string(es.Status),
		TotalMembers:     es.TotalMembers,
		ProcessedMembers: es.ProcessedMembers,
		FailedMembers:    es.FailedMembers,
		FileSize:         es.FileSize,
		ErrorMessage:     es.ErrorMessage,
		CreatedAt:        es.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        es.UpdatedAt.Format(time.RFC3339),
	}
	if es.StartedAt != nil {
		resp.StartedAt = es.StartedAt.Format(time.RFC3339)
	}
	if es.CompletedAt != nil {
		resp.CompletedAt = es.CompletedAt.Format(time.RFC3339)
	}
	if es.Status == domain.JobStatusCompleted && es.FilePath != "" {
		resp.DownloadURL = fmt.Sprintf("/api/v1/exports/%s/download", es.ID)
	}

	c.JSON(http.StatusOK, resp)
}

// DownloadExport handles GET /api/v1/exports/:export_id/download.
// Streams the finished archive.
func (h *ExportHandler) DownloadExport(c *gin.Context) {
	exportID := c.Param("export_id")
	if _, err := uuid.Parse(exportID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "export_id must be a valid UUID",
		})
		return
	}

	ctx := c.Request.Context()

	es, err := h.exports.Get(ctx, exportID)
	if err != nil {
		if errors.Is(err, domain.ErrExportNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Export not found",
			})
			return
		}
		h.logger.Error("Failed to get export status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get export",
		})
		return
	}

	if es.Status != domain.JobStatusCompleted || es.FilePath == "" {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Export is not ready for download",
			"status": string(es.Status),
		})
		return
	}

	reader, size, err := h.files.Open(ctx, es.FilePath)
	if err != nil {
		h.logger.Error("Failed to open export archive",
			slog.String("export_id", exportID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to open export archive",
		})
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.zip", exportID))
	c.DataFromReader(http.StatusOK, size, "application/zip", reader, nil)
}

func (h *ExportHandler) nudgeWorker(c *gin.Context, jobID string) {
	if h.rabbitClient == nil {
		return
	}
	if err := h.rabbitClient.PublishNudge(c.Request.Context(), jobID); err != nil {
		// The worker's poll interval picks the job up regardless.
		h.logger.Warn("Failed to nudge worker",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
