package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dpcore/statement-service/internal/domain"
	"github.com/dpcore/statement-service/internal/metrics"
)

// Handler executes one claimed job. The returned bytes become the job's
// result payload. Returning domain.ErrJobCancelled means the handler
// already settled the job row; any other error fails the job, with
// retryable errors scheduling another attempt.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *domain.Job) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) ([]byte, error) {
	return f(ctx, job)
}

// JobStore is the slice of the queue store the worker needs.
type JobStore interface {
	ClaimNext(ctx context.Context, queueName string) (*domain.Job, error)
	Complete(ctx context.Context, jobID string, result []byte) error
	Fail(ctx context.Context, jobID string, errMsg string, retryAllowed bool) error
	ReclaimStale(ctx context.Context, queueName string, olderThan time.Duration, excludeIDs []string) (int, error)
}

// Options tunes the polling loop.
type Options struct {
	QueueName       string
	PollInterval    time.Duration
	MaxActiveJobs   int
	ShutdownTimeout time.Duration
	StaleAfter      time.Duration
	ReclaimInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.QueueName == "" {
		o.QueueName = "default"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxActiveJobs <= 0 {
		o.MaxActiveJobs = 1
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 15 * time.Minute
	}
	if o.ReclaimInterval <= 0 {
		o.ReclaimInterval = time.Minute
	}
}

// Worker polls the queue on a fixed interval, claims due jobs up to a
// concurrency cap, and dispatches them to registered handlers. An
// optional nudge channel wakes the loop early when the API enqueues.
type Worker struct {
	store    JobStore
	handlers map[domain.JobKind]Handler
	nudges   <-chan string
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// New creates a worker. nudges may be nil when no message broker is
// configured; the poll ticker alone then drives the loop.
func New(store JobStore, nudges <-chan string, opts Options, logger *slog.Logger) *Worker {
	opts.applyDefaults()
	return &Worker{
		store:    store,
		handlers: make(map[domain.JobKind]Handler),
		nudges:   nudges,
		opts:     opts,
		logger:   logger,
		active:   make(map[string]struct{}),
	}
}

// Register binds a handler to a job kind. Must be called before Start.
func (w *Worker) Register(kind domain.JobKind, h Handler) {
	w.handlers[kind] = h
}

// Start runs the polling loop until ctx is cancelled, then waits up to
// ShutdownTimeout for in-flight jobs to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Worker starting",
		slog.String("queue", w.opts.QueueName),
		slog.Duration("poll_interval", w.opts.PollInterval),
		slog.Int("max_active_jobs", w.opts.MaxActiveJobs),
	)

	reclaimCtx, stopReclaim := context.WithCancel(ctx)
	defer stopReclaim()
	go w.reclaimLoop(reclaimCtx)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.shutdown()
		case <-ticker.C:
			w.claimLoop(ctx)
		case jobID, ok := <-w.nudges:
			if !ok {
				// Broker went away; the ticker keeps the loop alive.
				w.nudges = nil
				continue
			}
			w.logger.Debug("Nudge received", slog.String("job_id", jobID))
			w.claimLoop(ctx)
		}
	}
}

// claimLoop claims and dispatches jobs until the queue is empty or the
// concurrency cap is reached.
func (w *Worker) claimLoop(ctx context.Context) {
	for w.activeCount() < w.opts.MaxActiveJobs {
		job, err := w.store.ClaimNext(ctx, w.opts.QueueName)
		if err != nil {
			w.logger.Error("Failed to claim job", slog.String("error", err.Error()))
			return
		}
		if job == nil {
			return
		}

		metrics.JobsClaimedTotal.Inc()
		w.dispatch(ctx, job)
	}
}

// dispatch runs a job in its own goroutine with bookkeeping so shutdown
// can wait for it.
func (w *Worker) dispatch(ctx context.Context, job *domain.Job) {
	w.mu.Lock()
	w.active[job.ID] = struct{}{}
	w.mu.Unlock()
	metrics.ActiveJobs.Inc()

	// Detach from the loop context so shutdown can wait for the job to
	// finish instead of tearing it down mid-flight.
	runCtx := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.active, job.ID)
			w.mu.Unlock()
			metrics.ActiveJobs.Dec()
		}()

		w.run(runCtx, job)
	}()
}

func (w *Worker) run(ctx context.Context, job *domain.Job) {
	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Kind)),
		slog.Int("attempt", job.Attempts),
	)
	log.Info("Job started")

	handler, ok := w.handlers[job.Kind]
	if !ok {
		log.Error("No handler registered for job type")
		w.fail(ctx, job, domain.ErrUnknownJobKind.Error(), false, log)
		return
	}

	start := time.Now()
	result, err := handler.Handle(ctx, job)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		if cErr := w.store.Complete(ctx, job.ID, result); cErr != nil {
			log.Error("Failed to mark job completed", slog.String("error", cErr.Error()))
			return
		}
		metrics.JobsCompletedTotal.Inc()
		log.Info("Job completed", slog.Duration("duration", elapsed))

	case errors.Is(err, domain.ErrJobCancelled):
		// The handler observed the cancel and the row is already settled.
		log.Info("Job stopped after cancellation", slog.Duration("duration", elapsed))

	default:
		retryAllowed := domain.IsTransient(err)
		w.fail(ctx, job, err.Error(), retryAllowed, log)
		log.Warn("Job failed",
			slog.String("error", err.Error()),
			slog.Bool("retry_allowed", retryAllowed),
			slog.Duration("duration", elapsed),
		)
	}
}

func (w *Worker) fail(ctx context.Context, job *domain.Job, msg string, retryAllowed bool, log *slog.Logger) {
	if err := w.store.Fail(ctx, job.ID, msg, retryAllowed); err != nil {
		log.Error("Failed to record job failure", slog.String("error", err.Error()))
		return
	}
	if retryAllowed && job.Attempts < job.MaxAttempts {
		metrics.JobsRetriedTotal.Inc()
	} else {
		metrics.JobsFailedTotal.Inc()
	}
}

// reclaimLoop periodically returns jobs stuck in processing to pending.
// Covers rows orphaned by a crashed worker; this worker's own in-flight
// jobs are excluded so a long-running job keeps its single executor.
func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.ReclaimStale(ctx, w.opts.QueueName, w.opts.StaleAfter, w.activeIDs())
			if err != nil {
				w.logger.Error("Failed to reclaim stale jobs", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				w.logger.Warn("Reclaimed stale jobs", slog.Int("count", n))
			}
		}
	}
}

// shutdown waits for in-flight jobs up to the configured timeout.
func (w *Worker) shutdown() error {
	w.logger.Info("Worker shutting down",
		slog.Int("active_jobs", w.activeCount()),
	)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped")
		return nil
	case <-time.After(w.opts.ShutdownTimeout):
		return fmt.Errorf("shutdown timed out with %d jobs still running", w.activeCount())
	}
}

func (w *Worker) activeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

func (w *Worker) activeIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.active))
	for id := range w.active {
		ids = append(ids, id)
	}
	return ids
}
