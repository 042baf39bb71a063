package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/store"
)

// fakeJobStore is an in-memory JobStore that hands out pre-loaded
// batches and records outcome calls.
type fakeJobStore struct {
	mu       sync.Mutex
	batches  [][]*domain.Job
	claimErr error

	completed []uuid.UUID
	failures  []failCall
}

type failCall struct {
	jobID   uuid.UUID
	errMsg  string
	backoff time.Duration
}

func (f *fakeJobStore) Enqueue(_ context.Context, _ store.EnqueueParams) (*domain.Job, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (f *fakeJobStore) Claim(_ context.Context, _ string, _ int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeJobStore) Complete(_ context.Context, jobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeJobStore) Fail(_ context.Context, jobID uuid.UUID, errMsg string, backoff time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failCall{jobID: jobID, errMsg: errMsg, backoff: backoff})
	return nil
}

func (f *fakeJobStore) GetByID(_ context.Context, _ uuid.UUID) (*domain.Job, error) {
	return nil, store.ErrJobNotFound
}

func (f *fakeJobStore) snapshot() ([]uuid.UUID, []failCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	completed := append([]uuid.UUID(nil), f.completed...)
	failures := append([]failCall(nil), f.failures...)
	return completed, failures
}

func testJob(t *testing.T, kind string, attempts int) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(kind, nil, time.Now(), "")
	require.NoError(t, err)
	job.Attempts = attempts
	return job
}

func TestWorkerProcessSuccess(t *testing.T) {
	t.Parallel()

	job := testJob(t, "test.kind", 0)
	jobs := &fakeJobStore{}
	w := New(jobs, DefaultConfig(), nil)

	var handled *domain.Job
	w.Register("test.kind", func(_ context.Context, j *domain.Job) error {
		handled = j
		return nil
	})

	w.process(context.Background(), job)

	require.NotNil(t, handled)
	assert.Equal(t, job.ID, handled.ID)

	completed, failures := jobs.snapshot()
	require.Len(t, completed, 1)
	assert.Equal(t, job.ID, completed[0])
	assert.Empty(t, failures)
}

func TestWorkerProcessHandlerError(t *testing.T) {
	t.Parallel()

	job := testJob(t, "test.kind", 2)
	jobs := &fakeJobStore{}

	cfg := DefaultConfig()
	cfg.Backoff = &Constant{Interval: 45 * time.Second}
	w := New(jobs, cfg, nil)

	w.Register("test.kind", func(_ context.Context, _ *domain.Job) error {
		return errors.New("provider unreachable")
	})

	w.process(context.Background(), job)

	completed, failures := jobs.snapshot()
	assert.Empty(t, completed)
	require.Len(t, failures, 1)
	assert.Equal(t, job.ID, failures[0].jobID)
	assert.Equal(t, "provider unreachable", failures[0].errMsg)
	assert.Equal(t, 45*time.Second, failures[0].backoff)
}

func TestWorkerProcessFailureBackoffGrows(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobStore{}
	cfg := DefaultConfig()
	cfg.Backoff = NewExponential(10*time.Second, time.Hour)
	w := New(jobs, cfg, nil)
	w.Register("test.kind", func(_ context.Context, _ *domain.Job) error {
		return errors.New("boom")
	})

	// Attempts counts prior failures, so a job failing for the third
	// time waits longer than one failing for the first.
	w.process(context.Background(), testJob(t, "test.kind", 0))
	w.process(context.Background(), testJob(t, "test.kind", 2))

	_, failures := jobs.snapshot()
	require.Len(t, failures, 2)
	assert.Equal(t, 10*time.Second, failures[0].backoff)
	assert.Equal(t, 40*time.Second, failures[1].backoff)
}

func TestWorkerProcessUnknownKind(t *testing.T) {
	t.Parallel()

	job := testJob(t, "unregistered.kind", 0)
	jobs := &fakeJobStore{}
	w := New(jobs, DefaultConfig(), nil)

	w.process(context.Background(), job)

	completed, failures := jobs.snapshot()
	assert.Empty(t, completed)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].errMsg, "no handler registered")
}

func TestWorkerPollProcessesWholeBatch(t *testing.T) {
	t.Parallel()

	batch := []*domain.Job{
		testJob(t, "test.kind", 0),
		testJob(t, "test.kind", 0),
		testJob(t, "test.kind", 0),
	}
	jobs := &fakeJobStore{batches: [][]*domain.Job{batch}}
	w := New(jobs, DefaultConfig(), nil)
	w.Register("test.kind", func(_ context.Context, _ *domain.Job) error { return nil })

	n, err := w.poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	completed, _ := jobs.snapshot()
	assert.Len(t, completed, 3)
}

func TestWorkerPollClaimError(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobStore{claimErr: errors.New("connection refused")}
	w := New(jobs, DefaultConfig(), nil)

	n, err := w.poll(context.Background())
	assert.Equal(t, 0, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to claim jobs")
}

func TestWorkerStartStop(t *testing.T) {
	t.Parallel()

	batch := []*domain.Job{testJob(t, "test.kind", 0)}
	jobs := &fakeJobStore{batches: [][]*domain.Job{batch}}

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	w := New(jobs, cfg, nil)

	done := make(chan struct{})
	w.Register("test.kind", func(_ context.Context, _ *domain.Job) error {
		close(done)
		return nil
	})

	w.Start(context.Background())
	defer w.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never processed the queued job")
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	w := New(&fakeJobStore{}, Config{}, nil)
	assert.NotEmpty(t, w.config.WorkerID)
	assert.Equal(t, 10, w.config.MaxBatch)
	assert.Equal(t, time.Second, w.config.PollInterval)
	assert.NotNil(t, w.config.Backoff)
}
