// Package scheduler implements the due-date scan that turns work item
// deadlines into queued reminder and nudge jobs. The scan itself keeps
// no state: correctness under repeated or overlapping invocations comes
// entirely from the enqueue idempotency key, which is derived
// deterministically from the job kind and the work item.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/store"
)

// ReminderPayload is the payload carried by reminder and nudge jobs.
type ReminderPayload struct {
	WorkItemID uuid.UUID `json:"work_item_id"`
}

// Scanner enqueues reminder jobs for work items whose scheduled bounds
// have arrived.
type Scanner struct {
	workItems store.WorkItemStore
	jobs      store.JobStore
	batch     int
	logger    *slog.Logger
}

// NewScanner creates a Scanner. batch caps how many due work items one
// scan pass considers per bound. If logger is nil, a default logger is
// used.
func NewScanner(workItems store.WorkItemStore, jobs store.JobStore, batch int, logger *slog.Logger) *Scanner {
	if batch <= 0 {
		batch = 500
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		workItems: workItems,
		jobs:      jobs,
		batch:     batch,
		logger:    logger.With(slog.String("component", "due_date_scanner")),
	}
}

// IdempotencyKey derives the deterministic enqueue key for a (kind,
// work item) pair. Re-scans and concurrent scans of the same item
// collapse onto the same key and are absorbed as duplicates by the
// enqueuer.
func IdempotencyKey(kind string, workItemID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", kind, workItemID)
}

// ScanDueReminders enqueues a reminder job for every work item whose
// not_before has arrived, and a nudge job for every work item whose
// not_after has passed. Duplicate enqueues are no-ops, so the scan
// never produces more than one live job per (work item, kind) pair no
// matter how often it runs.
func (s *Scanner) ScanDueReminders(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := s.workItems.FindDueNotBefore(ctx, now, s.batch)
	if err != nil {
		return fmt.Errorf("failed to find work items due for reminders: %w", err)
	}
	reminders, err := s.enqueueForItems(ctx, domain.JobKindReminderNotBefore, due, now)
	if err != nil {
		return err
	}

	overdue, err := s.workItems.FindDueNotAfter(ctx, now, s.batch)
	if err != nil {
		return fmt.Errorf("failed to find work items due for nudges: %w", err)
	}
	nudges, err := s.enqueueForItems(ctx, domain.JobKindNudgeNotAfter, overdue, now)
	if err != nil {
		return err
	}

	s.logger.Info("due-date scan finished",
		slog.Int("reminders_enqueued", reminders),
		slog.Int("nudges_enqueued", nudges),
		slog.Int("reminders_due", len(due)),
		slog.Int("nudges_due", len(overdue)))
	return nil
}

// enqueueForItems enqueues one job of the given kind per work item and
// returns how many enqueues were not duplicates.
func (s *Scanner) enqueueForItems(
	ctx context.Context,
	kind string,
	items []*domain.WorkItem,
	runAt time.Time,
) (int, error) {
	enqueued := 0
	for _, item := range items {
		payload, err := json.Marshal(ReminderPayload{WorkItemID: item.ID})
		if err != nil {
			return enqueued, fmt.Errorf("failed to marshal reminder payload: %w", err)
		}

		_, duplicate, err := s.jobs.Enqueue(ctx, store.EnqueueParams{
			Kind:           kind,
			Payload:        payload,
			RunAt:          runAt,
			IdempotencyKey: IdempotencyKey(kind, item.ID),
		})
		if err != nil {
			return enqueued, fmt.Errorf("failed to enqueue %s for work item %s: %w",
				kind, item.ID, err)
		}
		if !duplicate {
			enqueued++
		}
	}
	return enqueued, nil
}
