package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Possible job status values. The lifecycle is explicit rather than
// inferred from which nullable columns happen to be set: a job is
// pending (claimable once run_at elapses), leased (held by exactly one
// worker), or completed (terminal success, never reclaimed).
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusLeased    JobStatus = "leased"
	JobStatusCompleted JobStatus = "completed"
)

// Job kind constants. Kinds are namespaced tags that route a claimed
// job to the handler that knows how to execute it.
const (
	JobKindMessageSendSMS    = "message.send.sms"
	JobKindMessageSendEmail  = "message.send.email"
	JobKindReminderNotBefore = "reminder.work_item.not_before"
	JobKindNudgeNotAfter     = "nudge.work_item.not_after"
	JobKindWebhookDispatch   = "webhook.dispatch"
)

// Common validation errors for Job
var (
	ErrEmptyJobID      = errors.New("job ID cannot be empty")
	ErrEmptyJobKind    = errors.New("job kind cannot be empty")
	ErrInvalidJobState = errors.New("invalid job status")
)

// Job represents one unit of deferred, side-effecting work. Rows are
// shared durable state: every mutation happens through the job store's
// narrow operations (enqueue, claim, complete, fail), each of which is
// a single atomic statement or transaction.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Status         JobStatus       `json:"status"`
	RunAt          time.Time       `json:"run_at"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	LockedBy       *string         `json:"locked_by,omitempty"`
	LockedAt       *time.Time      `json:"locked_at,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"last_error,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewJob creates a new pending Job with the given kind, payload and
// earliest run time. An empty idempotencyKey means the enqueue is not
// deduplicated. Returns an error if validation fails.
func NewJob(kind string, payload json.RawMessage, runAt time.Time, idempotencyKey string) (*Job, error) {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	job := &Job{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   payload,
		Status:    JobStatusPending,
		RunAt:     runAt.UTC(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if idempotencyKey != "" {
		job.IdempotencyKey = &idempotencyKey
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
// Returns an error if any field fails validation.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.Kind == "" {
		return ErrEmptyJobKind
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobState
	}

	return nil
}

// UnmarshalPayload decodes the job payload into the given value.
func (j *Job) UnmarshalPayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// isValidJobStatus checks if the given status is a valid JobStatus.
func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusPending, JobStatusLeased, JobStatusCompleted:
		return true
	default:
		return false
	}
}
