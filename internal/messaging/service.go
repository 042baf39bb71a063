package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/platform/logger"
	"github.com/perchfield/relayq/internal/store"
)

// SendPayload is the payload carried by message.send.* jobs.
type SendPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// SendIdempotencyKey derives the deterministic enqueue key for one
// message send. A retried send request for the same message collapses
// onto the same key, so at most one send job exists per message.
func SendIdempotencyKey(channel domain.MessageChannel, messageID uuid.UUID) string {
	return fmt.Sprintf("message.send.%s:%s", channel, messageID)
}

// SendJobKind maps a channel to its job kind.
func SendJobKind(channel domain.MessageChannel) string {
	if channel == domain.MessageChannelEmail {
		return domain.JobKindMessageSendEmail
	}
	return domain.JobKindMessageSendSMS
}

// Service owns the producer and consumer sides of message sending: it
// records messages and queues their send jobs, and it executes claimed
// send jobs against the channel provider while driving the delivery
// state machine.
type Service struct {
	messages        store.MessageStore
	jobs            store.JobStore
	provider        Provider
	maxSendAttempts int
	logger          *slog.Logger
}

// NewService creates a messaging Service. maxSendAttempts is this
// service's own retry ceiling for transient provider failures; the
// queue itself enforces none. If logger is nil, a default logger is
// used.
func NewService(
	messages store.MessageStore,
	jobs store.JobStore,
	provider Provider,
	maxSendAttempts int,
	logger *slog.Logger,
) *Service {
	if maxSendAttempts <= 0 {
		maxSendAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		messages:        messages,
		jobs:            jobs,
		provider:        provider,
		maxSendAttempts: maxSendAttempts,
		logger:          logger.With(slog.String("component", "messaging")),
	}
}

// QueueSend records a new outbound message and enqueues its send job.
// Calling it again for an already-queued message records and enqueues
// nothing: a duplicate create is absorbed, and the idempotency key
// absorbs the duplicate enqueue.
func (s *Service) QueueSend(ctx context.Context, message *domain.Message) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.messages.Create(ctx, message); err != nil {
		if !store.IsDuplicateError(err) {
			return nil, fmt.Errorf("failed to record message: %w", err)
		}
		log.Debug("message already recorded",
			slog.String("message_id", message.ID.String()))
	}

	payload, err := json.Marshal(SendPayload{MessageID: message.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send payload: %w", err)
	}

	job, duplicate, err := s.jobs.Enqueue(ctx, store.EnqueueParams{
		Kind:           SendJobKind(message.Channel),
		Payload:        payload,
		RunAt:          time.Now().UTC(),
		IdempotencyKey: SendIdempotencyKey(message.Channel, message.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue send job: %w", err)
	}
	if duplicate {
		log.Debug("send job already queued",
			slog.String("message_id", message.ID.String()))
		return nil, nil
	}

	return job, nil
}

// EnqueueSend enqueues a send job for an existing message without
// creating it, for callers that recorded the message elsewhere.
func (s *Service) EnqueueSend(ctx context.Context, message *domain.Message) (duplicate bool, err error) {
	payload, err := json.Marshal(SendPayload{MessageID: message.ID})
	if err != nil {
		return false, fmt.Errorf("failed to marshal send payload: %w", err)
	}

	_, duplicate, err = s.jobs.Enqueue(ctx, store.EnqueueParams{
		Kind:           SendJobKind(message.Channel),
		Payload:        payload,
		RunAt:          time.Now().UTC(),
		IdempotencyKey: SendIdempotencyKey(message.Channel, message.ID),
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue send job: %w", err)
	}
	return duplicate, nil
}

// HandleSendJob executes one claimed message.send.* job: it drives the
// delivery state machine through queued and sending, invokes the
// provider, and records the receipt alongside the sent transition.
//
// The handler is an idempotent at-least-once consumer. A redelivered
// job finds the message wherever the previous attempt left it: already
// terminal means there is nothing to do, already sending means the
// provider call is simply repeated. Transient provider failures return
// an error so the queue reschedules the job; once this service's own
// attempt ceiling is reached, or the provider reports a permanent
// failure, the message is terminalized instead.
func (s *Service) HandleSendJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("job_id", job.ID.String()))

	var payload SendPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	message, err := s.messages.GetByID(ctx, payload.MessageID)
	if err != nil {
		return fmt.Errorf("failed to load message %s: %w", payload.MessageID, err)
	}

	log = log.With(slog.String("message_id", message.ID.String()))

	if domain.IsTerminalDeliveryStatus(message.DeliveryStatus) {
		// A previous attempt (or a provider callback) already settled
		// this message. Nothing left to send.
		log.Info("message already terminal, skipping send",
			slog.String("delivery_status", string(message.DeliveryStatus)))
		return nil
	}
	if message.DeliveryStatus == domain.DeliveryStatusSent {
		log.Info("message already sent, skipping send")
		return nil
	}

	if err := s.advance(ctx, message, domain.DeliveryStatusQueued); err != nil {
		return err
	}
	if err := s.advance(ctx, message, domain.DeliveryStatusSending); err != nil {
		return err
	}

	receipt, err := s.provider.Send(ctx, message)
	if err != nil {
		return s.handleSendFailure(ctx, log, job, message, err)
	}

	err = s.messages.TransitionDeliveryStatus(ctx, message.ID, domain.DeliveryStatusSent,
		store.TransitionParams{
			ProviderMessageID: &receipt.ProviderMessageID,
			ProviderStatusRaw: &receipt.StatusRaw,
		})
	if err != nil {
		return fmt.Errorf("failed to record sent status: %w", err)
	}

	log.Info("message sent",
		slog.String("provider_message_id", receipt.ProviderMessageID))
	return nil
}

// advance moves the message one step forward if it has not already
// passed that step. Steps the message is already beyond are skipped, so
// a retried job does not trip over its own earlier progress.
func (s *Service) advance(ctx context.Context, message *domain.Message, status domain.DeliveryStatus) error {
	if !domain.CanTransition(message.DeliveryStatus, status) {
		return nil
	}
	if err := s.messages.TransitionDeliveryStatus(ctx, message.ID, status, store.TransitionParams{}); err != nil {
		// A concurrent writer may have moved the message past this
		// step between our read and write. Invalid transition here is
		// stale-read noise, not a bug.
		if errors.Is(err, domain.ErrInvalidTransition) {
			refreshed, getErr := s.messages.GetByID(ctx, message.ID)
			if getErr != nil {
				return getErr
			}
			*message = *refreshed
			return nil
		}
		return err
	}
	message.DeliveryStatus = status
	return nil
}

// handleSendFailure settles a provider error: permanent failures and
// exhausted retry budgets terminalize the message; the error is always
// propagated so the queue records the attempt.
func (s *Service) handleSendFailure(
	ctx context.Context,
	log *slog.Logger,
	job *domain.Job,
	message *domain.Message,
	sendErr error,
) error {
	perr, ok := AsProviderError(sendErr)
	exhausted := job.Attempts+1 >= s.maxSendAttempts

	if (ok && perr.Permanent) || exhausted {
		status := domain.DeliveryStatusFailed
		if ok && perr.Permanent {
			status = perr.TerminalStatus()
		}

		raw := sendErr.Error()
		err := s.messages.TransitionDeliveryStatus(ctx, message.ID, status,
			store.TransitionParams{ProviderStatusRaw: &raw})
		if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			log.Error("failed to terminalize message after send failure",
				slog.String("error", err.Error()))
		}

		log.Warn("message terminalized",
			slog.String("delivery_status", string(status)),
			slog.Bool("retries_exhausted", exhausted),
			slog.String("error", sendErr.Error()))
	}

	return fmt.Errorf("send failed for message %s: %w", message.ID, sendErr)
}
