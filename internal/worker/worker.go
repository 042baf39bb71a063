package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/store"
)

// HandlerFunc executes one claimed job. Returning nil reports the job
// complete; returning an error reports a failure, which reschedules the
// job after a backoff window. Handlers that want a retry ceiling must
// inspect job.Attempts themselves — the queue enforces none.
type HandlerFunc func(ctx context.Context, job *domain.Job) error

// Config holds configuration for the worker.
type Config struct {
	// WorkerID identifies this worker in job leases. Empty means a
	// generated ID is used.
	WorkerID string

	// MaxBatch is the maximum number of jobs claimed per poll.
	MaxBatch int

	// PollInterval is how long an idle worker sleeps between polls.
	// A poll that drains a full batch polls again immediately.
	PollInterval time.Duration

	// Backoff computes the delay before a failed job becomes claimable
	// again, from the number of failed attempts so far. Nil means
	// DefaultBackoff.
	Backoff Strategy
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		WorkerID:     fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		MaxBatch:     10,
		PollInterval: time.Second,
		Backoff:      DefaultBackoff(),
	}
}

// Worker polls the job store for claimable jobs and dispatches them to
// registered handlers by kind. Many workers may run concurrently
// against the same store; they coordinate only through the store's
// claim operation, never with each other.
type Worker struct {
	jobs       store.JobStore
	config     Config
	logger     *slog.Logger
	handlers   map[string]HandlerFunc
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a new Worker over the given job store.
func New(jobs store.JobStore, config Config, logger *slog.Logger) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = 10
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.Backoff == nil {
		config.Backoff = DefaultBackoff()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		jobs:     jobs,
		config:   config,
		logger:   logger.With(slog.String("component", "worker"), slog.String("worker_id", config.WorkerID)),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a job kind. Registering after Start is
// not supported.
func (w *Worker) Register(kind string, handler HandlerFunc) {
	w.handlers[kind] = handler
}

// Start begins the poll loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("worker started",
		slog.Int("max_batch", w.config.MaxBatch),
		slog.Duration("poll_interval", w.config.PollInterval))
}

// Stop cancels the poll loop and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// run is the poll loop. When a poll returns a full batch there is
// likely more due work, so the next poll happens immediately; otherwise
// the worker sleeps for the poll interval.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.poll(ctx)
		if err != nil {
			w.logger.Error("poll failed", slog.String("error", err.Error()))
		}

		if n == w.config.MaxBatch {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll claims up to one batch of jobs and processes them sequentially.
// Returns how many jobs were claimed.
func (w *Worker) poll(ctx context.Context) (int, error) {
	jobs, err := w.jobs.Claim(ctx, w.config.WorkerID, w.config.MaxBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to claim jobs: %w", err)
	}

	jobsClaimed.Add(float64(len(jobs)))

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			// Shutdown mid-batch: unprocessed jobs keep their lease
			// and are reclaimed after it lapses.
			return len(jobs), ctx.Err()
		default:
		}
		w.process(ctx, job)
	}

	return len(jobs), nil
}

// process runs one claimed job through its handler and reports the
// outcome back to the store.
func (w *Worker) process(ctx context.Context, job *domain.Job) {
	log := w.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("kind", job.Kind),
		slog.Int("attempts", job.Attempts),
	)

	handler, ok := w.handlers[job.Kind]
	if !ok {
		// No handler for this kind in this worker build. Failing the
		// job keeps it visible (attempts, last_error) for operators
		// instead of silently dropping it.
		log.Error("no handler registered for job kind")
		w.fail(ctx, job, fmt.Sprintf("no handler registered for kind %q", job.Kind), log)
		return
	}

	log.Info("processing job")
	start := time.Now()

	err := handler(ctx, job)
	jobDuration.WithLabelValues(job.Kind).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("job execution failed", slog.String("error", err.Error()))
		w.fail(ctx, job, err.Error(), log)
		return
	}

	if err := w.jobs.Complete(ctx, job.ID); err != nil {
		log.Error("failed to complete job", slog.String("error", err.Error()))
		return
	}
	jobsCompleted.WithLabelValues(job.Kind).Inc()
	log.Info("job completed")
}

// fail reports a failed attempt with the backoff for the next one.
func (w *Worker) fail(ctx context.Context, job *domain.Job, errMsg string, log *slog.Logger) {
	backoff := w.config.Backoff.Delay(job.Attempts + 1)
	if err := w.jobs.Fail(ctx, job.ID, errMsg, backoff); err != nil {
		log.Error("failed to record job failure", slog.String("error", err.Error()))
		return
	}
	jobsFailed.WithLabelValues(job.Kind).Inc()
}
