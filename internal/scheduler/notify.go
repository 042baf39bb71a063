package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/platform/logger"
	"github.com/perchfield/relayq/internal/webhook"
)

// Notifier executes claimed reminder and nudge jobs by fanning them out
// as webhook events to the configured notification endpoint. The
// outbound dispatch is itself a queued job, deduplicated with a key
// derived from the reminder, so a redelivered reminder job never
// produces a second notification.
type Notifier struct {
	dispatcher *webhook.Dispatcher
	notifyURL  string
	logger     *slog.Logger
}

// NewNotifier creates a Notifier delivering to notifyURL.
// If logger is nil, a default logger is used.
func NewNotifier(dispatcher *webhook.Dispatcher, notifyURL string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		dispatcher: dispatcher,
		notifyURL:  notifyURL,
		logger:     logger.With(slog.String("component", "reminder_notifier")),
	}
}

// reminderEvent is the webhook body for reminder and nudge events.
type reminderEvent struct {
	Event      string    `json:"event"`
	WorkItemID uuid.UUID `json:"work_item_id"`
}

// HandleReminderJob executes one claimed reminder.work_item.not_before
// or nudge.work_item.not_after job.
func (n *Notifier) HandleReminderJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, n.logger).With(
		slog.String("job_id", job.ID.String()),
		slog.String("kind", job.Kind))

	var payload ReminderPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	event := "work_item.reminder"
	if job.Kind == domain.JobKindNudgeNotAfter {
		event = "work_item.nudge"
	}

	duplicate, err := n.dispatcher.Enqueue(ctx, n.notifyURL, event,
		reminderEvent{Event: event, WorkItemID: payload.WorkItemID},
		fmt.Sprintf("%s:dispatch:%s", job.Kind, payload.WorkItemID))
	if err != nil {
		return fmt.Errorf("failed to queue %s notification: %w", event, err)
	}
	if duplicate {
		log.Debug("notification already queued",
			slog.String("work_item_id", payload.WorkItemID.String()))
	}

	return nil
}
