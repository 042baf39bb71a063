package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/platform/logger"
	"github.com/perchfield/relayq/internal/store"
)

// jobColumns is the scan list shared by every query returning full job rows.
const jobColumns = `id, kind, payload, status, run_at, idempotency_key,
		locked_by, locked_at, lease_expires_at, attempts, last_error,
		completed_at, created_at, updated_at`

// PostgresJobStore implements the store.JobStore interface using
// PostgreSQL. All queue invariants (enqueue idempotency, single-holder
// leases) are enforced by the database — a partial unique index over
// idempotency_key and row locks taken with SKIP LOCKED — rather than by
// application-level checks that would leave race windows.
type PostgresJobStore struct {
	db       store.DBTX
	logger   *slog.Logger
	leaseTTL time.Duration
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the
// store.JobStore interface. leaseTTL bounds how long a claimed job
// stays invisible to other claimers; once it lapses the job is
// reclaimable as if pending. If logger is nil, a default logger is used.
func NewPostgresJobStore(db store.DBTX, leaseTTL time.Duration, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:       db,
		logger:   logger.With(slog.String("component", "job_store")),
		leaseTTL: leaseTTL,
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// Enqueue implements store.JobStore.Enqueue.
// The ON CONFLICT DO NOTHING over the idempotency key index makes the
// check-and-insert a single atomic statement: under concurrent callers
// with the same key exactly one row is inserted and every other caller
// observes duplicate.
func (s *PostgresJobStore) Enqueue(
	ctx context.Context,
	params store.EnqueueParams,
) (*domain.Job, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	runAt := params.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	job, err := domain.NewJob(params.Kind, params.Payload, runAt, params.IdempotencyKey)
	if err != nil {
		log.Warn("job validation failed during enqueue",
			slog.String("error", err.Error()),
			slog.String("kind", params.Kind))
		return nil, false, err
	}

	query := `
		INSERT INTO jobs (id, kind, payload, status, run_at, idempotency_key,
			attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL
		DO NOTHING
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Kind,
		[]byte(job.Payload),
		job.Status,
		job.RunAt,
		job.IdempotencyKey,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to enqueue job",
			slog.String("error", err.Error()),
			slog.String("kind", job.Kind))
		return nil, false, MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Another enqueue already holds this idempotency key. This is
		// a successful no-op for the caller, not an error.
		log.Debug("duplicate enqueue absorbed",
			slog.String("kind", job.Kind),
			slog.String("idempotency_key", params.IdempotencyKey))
		return nil, true, nil
	}

	log.Info("job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("kind", job.Kind),
		slog.Time("run_at", job.RunAt))
	return job, false, nil
}

// Claim implements store.JobStore.Claim.
// Selection and lease marking happen in one statement: the inner select
// locks candidate rows with FOR UPDATE SKIP LOCKED, so a concurrent
// claim mid-transaction over the same rows is skipped rather than
// waited on, and the outer update stamps the lease before the lock is
// released. Two concurrent claims can therefore never lease the same
// job. Leased rows whose lease_expires_at has lapsed are treated as
// runnable again, which is what un-sticks a job whose worker crashed.
func (s *PostgresJobStore) Claim(
	ctx context.Context,
	workerID string,
	maxBatch int,
) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if workerID == "" {
		return nil, fmt.Errorf("%w: worker ID cannot be empty", store.ErrInvalidEntity)
	}
	if maxBatch <= 0 {
		return nil, fmt.Errorf("%w: max batch must be positive", store.ErrInvalidEntity)
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE jobs SET
			status = 'leased',
			locked_by = $1,
			locked_at = $2,
			lease_expires_at = $3,
			updated_at = $2
		WHERE id IN (
			SELECT id FROM jobs
			WHERE run_at <= $2
			  AND (status = 'pending'
			       OR (status = 'leased' AND lease_expires_at <= $2))
			ORDER BY run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		RETURNING %s`, jobColumns)

	rows, err := s.db.QueryContext(ctx, query, workerID, now, now.Add(s.leaseTTL), maxBatch)
	if err != nil {
		log.Error("failed to claim jobs",
			slog.String("error", err.Error()),
			slog.String("worker_id", workerID))
		return nil, store.NewStoreError("job", "claim", "claim query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			log.Error("failed to scan claimed job",
				slog.String("error", err.Error()),
				slog.String("worker_id", workerID))
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed jobs: %w", err)
	}

	if len(jobs) > 0 {
		log.Debug("claimed jobs",
			slog.String("worker_id", workerID),
			slog.Int("count", len(jobs)))
	}
	return jobs, nil
}

// Complete implements store.JobStore.Complete.
// Completing an already-completed job is a no-op; completion is never
// undone and a completed job is never reclaimed.
func (s *PostgresJobStore) Complete(ctx context.Context, jobID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()
	query := `
		UPDATE jobs SET
			status = 'completed',
			completed_at = $2,
			locked_by = NULL,
			locked_at = NULL,
			lease_expires_at = NULL,
			updated_at = $2
		WHERE id = $1 AND status <> 'completed'
	`
	result, err := s.db.ExecContext(ctx, query, jobID, now)
	if err != nil {
		log.Error("failed to complete job",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Already completed, or unknown ID. Idempotent either way.
		log.Debug("complete was a no-op", slog.String("job_id", jobID.String()))
		return nil
	}

	log.Info("job completed", slog.String("job_id", jobID.String()))
	return nil
}

// Fail implements store.JobStore.Fail.
// The job drops back to pending with its lease cleared and run_at
// pushed forward by the caller-supplied backoff, so it becomes
// claimable again once the window elapses. Completed jobs are never
// failed.
func (s *PostgresJobStore) Fail(
	ctx context.Context,
	jobID uuid.UUID,
	errMsg string,
	backoff time.Duration,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()
	query := `
		UPDATE jobs SET
			status = 'pending',
			attempts = attempts + 1,
			last_error = $2,
			locked_by = NULL,
			locked_at = NULL,
			lease_expires_at = NULL,
			run_at = $3,
			updated_at = $4
		WHERE id = $1 AND status <> 'completed'
	`
	result, err := s.db.ExecContext(ctx, query, jobID, errMsg, now.Add(backoff), now)
	if err != nil {
		log.Error("failed to record job failure",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "job"); err != nil {
		return err
	}

	log.Info("job failed, rescheduled",
		slog.String("job_id", jobID.String()),
		slog.String("last_error", errMsg),
		slog.Duration("backoff", backoff))
	return nil
}

// GetByID implements store.JobStore.GetByID.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)

	row := s.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans one full job row into a domain.Job.
func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job            domain.Job
		payload        []byte
		idempotencyKey sql.NullString
		lockedBy       sql.NullString
		lockedAt       sql.NullTime
		leaseExpiresAt sql.NullTime
		lastError      sql.NullString
		completedAt    sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.Kind,
		&payload,
		&job.Status,
		&job.RunAt,
		&idempotencyKey,
		&lockedBy,
		&lockedAt,
		&leaseExpiresAt,
		&job.Attempts,
		&lastError,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, MapError(err)
	}

	job.Payload = payload
	if idempotencyKey.Valid {
		job.IdempotencyKey = &idempotencyKey.String
	}
	if lockedBy.Valid {
		job.LockedBy = &lockedBy.String
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		job.LockedAt = &t
	}
	if leaseExpiresAt.Valid {
		t := leaseExpiresAt.Time
		job.LeaseExpiresAt = &t
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	return &job, nil
}
