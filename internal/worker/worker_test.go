package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpcore/statement-service/internal/domain"
)

type failCall struct {
	jobID        string
	errMsg       string
	retryAllowed bool
}

// fakeJobStore hands out a fixed backlog of jobs and records how the
// worker settles them. Fail mirrors the real store's guard: a row no
// longer in processing (cancelled mid-run) is left untouched.
type fakeJobStore struct {
	mu           sync.Mutex
	backlog      []*domain.Job
	cancelled    map[string]bool
	completed    []string
	failed       []failCall
	failsSkipped int
	reclaimed    int
	excluded     [][]string
}

func (f *fakeJobStore) cancel(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled == nil {
		f.cancelled = make(map[string]bool)
	}
	f.cancelled[jobID] = true
}

func (f *fakeJobStore) ClaimNext(ctx context.Context, queueName string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backlog) == 0 {
		return nil, nil
	}
	job := f.backlog[0]
	f.backlog = f.backlog[1:]
	job.Status = domain.JobStatusProcessing
	job.Attempts++
	return job, nil
}

func (f *fakeJobStore) Complete(ctx context.Context, jobID string, result []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeJobStore) Fail(ctx context.Context, jobID string, errMsg string, retryAllowed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled[jobID] {
		f.failsSkipped++
		return nil
	}
	f.failed = append(f.failed, failCall{jobID: jobID, errMsg: errMsg, retryAllowed: retryAllowed})
	return nil
}

func (f *fakeJobStore) ReclaimStale(ctx context.Context, queueName string, olderThan time.Duration, excludeIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaimed++
	f.excluded = append(f.excluded, append([]string(nil), excludeIDs...))
	return 0, nil
}

func (f *fakeJobStore) snapshot() ([]string, []failCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	completed := append([]string(nil), f.completed...)
	failed := append([]failCall(nil), f.failed...)
	return completed, failed
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func exportJob(id string) *domain.Job {
	return &domain.Job{
		ID:          id,
		QueueName:   "exports",
		Kind:        domain.JobKindBatchExport,
		Status:      domain.JobStatusPending,
		MaxAttempts: 3,
		Payload:     []byte(`{}`),
	}
}

// runWorker starts the worker and returns a stop function that cancels
// the loop and waits for Start to return.
func runWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorker_CompletesJob(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}

	w := New(store, nil, Options{
		QueueName:    "exports",
		PollInterval: 10 * time.Millisecond,
	}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	}))

	stop := runWorker(t, w)
	defer stop()

	waitFor(t, 2*time.Second, func() bool {
		completed, _ := store.snapshot()
		return len(completed) == 1
	})

	completed, failed := store.snapshot()
	assert.Equal(t, []string{"job-1"}, completed)
	assert.Empty(t, failed)
}

func TestWorker_UnknownKindFailsPermanently(t *testing.T) {
	job := exportJob("job-1")
	job.Kind = domain.JobKind("resize_image")
	store := &fakeJobStore{backlog: []*domain.Job{job}}

	w := New(store, nil, Options{PollInterval: 10 * time.Millisecond}, testLogger())

	stop := runWorker(t, w)
	defer stop()

	waitFor(t, 2*time.Second, func() bool {
		_, failed := store.snapshot()
		return len(failed) == 1
	})

	_, failed := store.snapshot()
	assert.Equal(t, "job-1", failed[0].jobID)
	assert.False(t, failed[0].retryAllowed)
	assert.Contains(t, failed[0].errMsg, "unknown job kind")
}

func TestWorker_TransientErrorAllowsRetry(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}

	w := New(store, nil, Options{PollInterval: 10 * time.Millisecond}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		return nil, domain.NewRetryableError(errors.New("render service down"))
	}))

	stop := runWorker(t, w)
	defer stop()

	waitFor(t, 2*time.Second, func() bool {
		_, failed := store.snapshot()
		return len(failed) == 1
	})

	_, failed := store.snapshot()
	assert.True(t, failed[0].retryAllowed)
}

func TestWorker_PermanentErrorDisallowsRetry(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}

	w := New(store, nil, Options{PollInterval: 10 * time.Millisecond}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		return nil, errors.New("invalid payload")
	}))

	stop := runWorker(t, w)
	defer stop()

	waitFor(t, 2*time.Second, func() bool {
		_, failed := store.snapshot()
		return len(failed) == 1
	})

	_, failed := store.snapshot()
	assert.False(t, failed[0].retryAllowed)
}

func TestWorker_CancelledJobNotSettled(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}

	var handled sync.WaitGroup
	handled.Add(1)

	w := New(store, nil, Options{PollInterval: 10 * time.Millisecond}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		defer handled.Done()
		return nil, domain.ErrJobCancelled
	}))

	stop := runWorker(t, w)

	handled.Wait()
	time.Sleep(50 * time.Millisecond)
	stop()

	completed, failed := store.snapshot()
	assert.Empty(t, completed)
	assert.Empty(t, failed)
}

func TestWorker_CancelDuringRunStaysCancelled(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}

	cancelled := make(chan struct{})
	w := New(store, nil, Options{PollInterval: 10 * time.Millisecond}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		// The job is cancelled while the handler runs, then the handler
		// errors out anyway. The row must keep its terminal status.
		store.cancel(job.ID)
		close(cancelled)
		return nil, errors.New("render session lost")
	}))

	stop := runWorker(t, w)
	defer stop()

	<-cancelled
	waitFor(t, 2*time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.failsSkipped == 1
	})

	completed, failed := store.snapshot()
	assert.Empty(t, completed)
	assert.Empty(t, failed)
}

func TestWorker_ReclaimExcludesOwnActiveJobs(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}

	release := make(chan struct{})
	w := New(store, nil, Options{
		PollInterval:    5 * time.Millisecond,
		ReclaimInterval: 10 * time.Millisecond,
	}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		<-release
		return nil, nil
	}))

	stop := runWorker(t, w)
	defer stop()

	// A sweep that runs while job-1 is still in flight must list it as
	// excluded, so a slow job cannot get a second executor.
	waitFor(t, 2*time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, ids := range store.excluded {
			for _, id := range ids {
				if id == "job-1" {
					return true
				}
			}
		}
		return false
	})

	close(release)
}

func TestWorker_ConcurrencyCap(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{
		exportJob("job-1"), exportJob("job-2"), exportJob("job-3"), exportJob("job-4"),
	}}

	var mu sync.Mutex
	running := 0
	peak := 0
	release := make(chan struct{})

	w := New(store, nil, Options{
		PollInterval:  5 * time.Millisecond,
		MaxActiveJobs: 2,
	}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		<-release

		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	}))

	stop := runWorker(t, w)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == 2
	})

	// Cap holds while two jobs are blocked.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, running)
	mu.Unlock()

	close(release)

	waitFor(t, 2*time.Second, func() bool {
		completed, _ := store.snapshot()
		return len(completed) == 4
	})

	stop()

	mu.Lock()
	assert.Equal(t, 2, peak)
	mu.Unlock()
}

func TestWorker_GracefulShutdownWaitsForJob(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}

	started := make(chan struct{})
	w := New(store, nil, Options{
		PollInterval:    5 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}

	// The in-flight job finished and was marked completed.
	completed, _ := store.snapshot()
	assert.Equal(t, []string{"job-1"}, completed)
}

func TestWorker_NudgeWakesLoop(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}
	nudges := make(chan string, 1)

	// Long poll interval so only the nudge can trigger the claim.
	w := New(store, nudges, Options{PollInterval: time.Hour}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		return nil, nil
	}))

	stop := runWorker(t, w)
	defer stop()

	nudges <- "job-1"

	waitFor(t, 2*time.Second, func() bool {
		completed, _ := store.snapshot()
		return len(completed) == 1
	})
}

func TestWorker_ClosedNudgeChannelFallsBackToPolling(t *testing.T) {
	store := &fakeJobStore{backlog: []*domain.Job{exportJob("job-1")}}
	nudges := make(chan string)
	close(nudges)

	w := New(store, nudges, Options{PollInterval: 10 * time.Millisecond}, testLogger())
	w.Register(domain.JobKindBatchExport, HandlerFunc(func(ctx context.Context, job *domain.Job) ([]byte, error) {
		return nil, nil
	}))

	stop := runWorker(t, w)
	defer stop()

	waitFor(t, 2*time.Second, func() bool {
		completed, _ := store.snapshot()
		return len(completed) == 1
	})
}
