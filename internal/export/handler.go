package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/dpcore/statement-service/internal/domain"
	"github.com/dpcore/statement-service/internal/metrics"
	"github.com/dpcore/statement-service/internal/render"
)

// StatusStore mutates the export status record paired with a job.
// MarkProcessing resets the progress counters so a retried job reports a
// fresh monotonic series; AddProgress only ever adds within one run.
type StatusStore interface {
	MarkProcessing(ctx context.Context, exportID string) error
	AddProgress(ctx context.Context, exportID string, processed, failed int) error
	Complete(ctx context.Context, exportID, filePath string, fileSize int64) error
	MarkFailed(ctx context.Context, exportID, errMsg string) error
	MarkCancelled(ctx context.Context, exportID string) error
}

// RecordSource resolves the member data each document is built from.
type RecordSource interface {
	GetAccountData(ctx context.Context, batchRef, account string) (*domain.AccountRecord, error)
}

// DocumentBuilder produces the HTML handed to the render session.
type DocumentBuilder interface {
	BuildHTML(tab domain.TabType, rec *domain.AccountRecord) (string, error)
}

// CancelChecker reports whether the job driving this export has been
// cancelled. Checked between chunks so a cancel lands within one chunk's
// worth of work.
type CancelChecker interface {
	IsCancelled(ctx context.Context, jobID string) (bool, error)
}

// ArchiveStore persists the finished zip.
type ArchiveStore interface {
	Write(ctx context.Context, filePath string, data []byte) (int64, error)
}

// Options tunes chunking, concurrency, and per-member retry behavior.
type Options struct {
	ChunkSize         int
	RenderConcurrency int
	MemberRetries     int
	MemberRetryDelay  time.Duration
	RenderTimeout     time.Duration
	ArchivePrefix     string
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 50
	}
	if o.RenderConcurrency <= 0 {
		o.RenderConcurrency = 10
	}
	if o.MemberRetries < 0 {
		o.MemberRetries = 0
	}
	if o.MemberRetryDelay <= 0 {
		o.MemberRetryDelay = 500 * time.Millisecond
	}
	if o.RenderTimeout <= 0 {
		o.RenderTimeout = 2 * time.Minute
	}
	if o.ArchivePrefix == "" {
		o.ArchivePrefix = "exports"
	}
}

// Handler runs batch export jobs: it renders one PDF per member through
// a shared render session, bundles them into a zip, and keeps the export
// status record current as chunks finish.
type Handler struct {
	statuses StatusStore
	source   RecordSource
	builder  DocumentBuilder
	engine   render.Engine
	cancels  CancelChecker
	archive  ArchiveStore
	opts     Options
	logger   *slog.Logger
}

// NewHandler wires the export handler.
func NewHandler(
	statuses StatusStore,
	source RecordSource,
	builder DocumentBuilder,
	engine render.Engine,
	cancels CancelChecker,
	archive ArchiveStore,
	opts Options,
	logger *slog.Logger,
) *Handler {
	opts.applyDefaults()
	return &Handler{
		statuses: statuses,
		source:   source,
		builder:  builder,
		engine:   engine,
		cancels:  cancels,
		archive:  archive,
		opts:     opts,
		logger:   logger,
	}
}

type memberResult struct {
	index int
	name  string
	pdf   []byte
	err   error
}

// Handle processes one batch export job. Returns a JSON result payload on
// success, domain.ErrJobCancelled when the job was cancelled mid-flight,
// and a retryable error for infrastructure failures worth re-running the
// whole job for. Member-level failures never fail the job; they are
// counted and the remaining members still ship.
func (h *Handler) Handle(ctx context.Context, job *domain.Job) ([]byte, error) {
	payload, err := domain.DecodeBatchExportPayload(job.Payload)
	if err != nil {
		return nil, err
	}

	log := h.logger.With(
		slog.String("job_id", job.ID),
		slog.String("export_id", payload.ExportID),
		slog.String("tab_type", string(payload.Tab)),
	)

	if err := h.statuses.MarkProcessing(ctx, payload.ExportID); err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("failed to mark export processing: %w", err))
	}

	session, err := h.engine.OpenSession(ctx)
	if err != nil {
		h.failExport(ctx, payload.ExportID, err, log)
		return nil, err
	}

	released := false
	releaseSession := func() {
		if released {
			return
		}
		released = true
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			log.Warn("Failed to release render session", slog.String("error", err.Error()))
		}
	}
	defer releaseSession()

	archive := NewArchive()
	totalProcessed := 0
	totalFailed := 0

	chunks := chunkMembers(payload.Members, h.opts.ChunkSize)
	log.Info("Starting batch export",
		slog.Int("members", len(payload.Members)),
		slog.Int("chunks", len(chunks)),
	)

	for i, chunk := range chunks {
		cancelled, err := h.cancels.IsCancelled(ctx, job.ID)
		if err != nil {
			log.Warn("Cancellation check failed, continuing", slog.String("error", err.Error()))
		} else if cancelled {
			log.Info("Export cancelled, stopping",
				slog.Int("chunks_done", i),
				slog.Int("processed", totalProcessed),
			)
			if err := h.statuses.MarkCancelled(ctx, payload.ExportID); err != nil {
				log.Error("Failed to mark export cancelled", slog.String("error", err.Error()))
			}
			return nil, domain.ErrJobCancelled
		}

		results := h.renderChunk(ctx, session, payload, chunk)

		processed := 0
		failed := 0
		for _, r := range results {
			if r.err != nil {
				failed++
				metrics.MembersFailedTotal.Inc()
				log.Warn("Member export failed",
					slog.String("account", chunk[r.index].Account),
					slog.String("error", r.err.Error()),
				)
				continue
			}
			if err := archive.Add(r.name, r.pdf); err != nil {
				failed++
				metrics.MembersFailedTotal.Inc()
				log.Error("Failed to archive member document",
					slog.String("account", chunk[r.index].Account),
					slog.String("error", err.Error()),
				)
				continue
			}
			processed++
			metrics.MembersProcessedTotal.Inc()
		}

		totalProcessed += processed
		totalFailed += failed

		if err := h.statuses.AddProgress(ctx, payload.ExportID, processed, failed); err != nil {
			log.Error("Failed to record export progress", slog.String("error", err.Error()))
		}
	}

	// Release before uploading so the browser instance frees up while the
	// archive ships.
	releaseSession()

	data, err := archive.Bytes()
	if err != nil {
		h.failExport(ctx, payload.ExportID, err, log)
		return nil, domain.NewRetryableError(err)
	}

	filePath := path.Join(h.opts.ArchivePrefix, payload.ExportID+".zip")
	size, err := h.archive.Write(ctx, filePath, data)
	if err != nil {
		err = fmt.Errorf("failed to store export archive: %w", err)
		h.failExport(ctx, payload.ExportID, err, log)
		return nil, domain.NewRetryableError(err)
	}

	if err := h.statuses.Complete(ctx, payload.ExportID, filePath, size); err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("failed to complete export status: %w", err))
	}

	log.Info("Batch export finished",
		slog.Int("processed", totalProcessed),
		slog.Int("failed", totalFailed),
		slog.String("file_path", filePath),
		slog.Int64("file_size", size),
	)

	result, err := json.Marshal(map[string]any{
		"export_id": payload.ExportID,
		"file_path": filePath,
		"file_size": size,
		"processed": totalProcessed,
		"failed":    totalFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job result: %w", err)
	}

	return result, nil
}

// renderChunk renders one chunk's members concurrently, capped by
// RenderConcurrency. Results come back indexed so the caller can map
// failures to members.
func (h *Handler) renderChunk(ctx context.Context, session render.Session, payload *domain.BatchExportPayload, chunk []domain.Member) []memberResult {
	results := make([]memberResult, len(chunk))
	sem := make(chan struct{}, h.opts.RenderConcurrency)

	var wg sync.WaitGroup
	for i, member := range chunk {
		wg.Add(1)
		go func(i int, member domain.Member) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			pdf, name, err := h.renderMember(ctx, session, payload.Tab, member)
			results[i] = memberResult{index: i, name: name, pdf: pdf, err: err}
		}(i, member)
	}
	wg.Wait()

	return results
}

// renderMember produces one member's PDF, retrying transient failures a
// fixed number of times with a flat delay between attempts.
func (h *Handler) renderMember(ctx context.Context, session render.Session, tab domain.TabType, member domain.Member) ([]byte, string, error) {
	rec, err := h.source.GetAccountData(ctx, member.BatchRef, member.Account)
	if err != nil {
		return nil, "", err
	}

	html, err := h.builder.BuildHTML(tab, rec)
	if err != nil {
		return nil, "", err
	}

	name := SanitizeFilename(rec.Account, rec.Name)

	var lastErr error
	attempts := h.opts.MemberRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(h.opts.MemberRetryDelay):
			}
		}

		start := time.Now()
		pdf, err := h.renderOnce(ctx, session, html)
		if err == nil {
			metrics.RenderDuration.Observe(time.Since(start).Seconds())
			return pdf, name, nil
		}

		lastErr = err
		if !domain.IsTransient(err) {
			break
		}
	}

	return nil, "", lastErr
}

func (h *Handler) renderOnce(ctx context.Context, session render.Session, html string) ([]byte, error) {
	renderCtx, cancel := context.WithTimeout(ctx, h.opts.RenderTimeout)
	defer cancel()

	pdf, err := session.Render(renderCtx, html)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !domain.IsTransient(err) {
			return nil, domain.NewRetryableError(err)
		}
		return nil, err
	}
	return pdf, nil
}

func (h *Handler) failExport(ctx context.Context, exportID string, cause error, log *slog.Logger) {
	if err := h.statuses.MarkFailed(ctx, exportID, cause.Error()); err != nil {
		log.Error("Failed to mark export failed", slog.String("error", err.Error()))
	}
}

func chunkMembers(members []domain.Member, size int) [][]domain.Member {
	if len(members) == 0 {
		return nil
	}

	chunks := make([][]domain.Member, 0, (len(members)+size-1)/size)
	for start := 0; start < len(members); start += size {
		end := start + size
		if end > len(members) {
			end = len(members)
		}
		chunks = append(chunks, members[start:end])
	}
	return chunks
}
