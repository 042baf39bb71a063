package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/perchfield/relayq/internal/domain"
)

// EnqueueParams carries the inputs to JobStore.Enqueue.
type EnqueueParams struct {
	// Kind is the namespaced job type tag, e.g. "message.send.sms".
	Kind string

	// Payload is opaque structured data the worker needs.
	Payload json.RawMessage

	// RunAt is the earliest time the job may be claimed. The zero
	// value means "now".
	RunAt time.Time

	// IdempotencyKey deduplicates enqueue calls that represent the
	// same logical task. Empty means no deduplication.
	IdempotencyKey string
}

// JobStore defines the narrow interface to the durable job queue.
// All coordination between producers and workers happens through these
// operations; there is no in-memory ownership of job state.
// Version: 1.0
type JobStore interface {
	// Enqueue inserts a new pending job. If the idempotency key is
	// already present, no row is inserted, the returned job is nil and
	// duplicate is true. Duplicate enqueue is a successful no-op, not
	// an error. The check-and-insert is atomic under concurrent
	// callers: it relies on a uniqueness constraint, never on an
	// application-level check-then-insert.
	Enqueue(ctx context.Context, params EnqueueParams) (job *domain.Job, duplicate bool, err error)

	// Claim atomically leases up to maxBatch runnable jobs for the
	// given worker, oldest run_at first, skipping rows another
	// concurrent claim is holding rather than blocking on them. Two
	// concurrent claims never return the same job. Jobs whose lease
	// has lapsed are reclaimed as if pending.
	Claim(ctx context.Context, workerID string, maxBatch int) ([]*domain.Job, error)

	// Complete marks the job as terminally succeeded and clears its
	// lease. Completing an already-completed job is a no-op.
	Complete(ctx context.Context, jobID uuid.UUID) error

	// Fail records a failed execution attempt: attempts+1, last_error
	// set, lease cleared, run_at pushed to now+backoff so the job
	// becomes claimable again once the window elapses. The queue
	// enforces no attempt ceiling; retry policy belongs to callers,
	// who must inspect Attempts themselves.
	Fail(ctx context.Context, jobID uuid.UUID, errMsg string, backoff time.Duration) error

	// GetByID retrieves a job by its unique ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}
