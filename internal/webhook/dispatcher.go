// Package webhook implements outbound webhook delivery as queue jobs.
// Dispatches are enqueued like any other job and delivered by a worker
// handler that POSTs the event and signs each request with a
// short-lived token, so receivers can verify origin and freshness.
package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/platform/logger"
	"github.com/perchfield/relayq/internal/store"
)

// DispatchPayload is the payload carried by webhook.dispatch jobs.
type DispatchPayload struct {
	URL   string          `json:"url"`
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body"`
}

// Dispatcher enqueues and delivers outbound webhooks.
type Dispatcher struct {
	jobs          store.JobStore
	signingSecret []byte
	client        *http.Client
	logger        *slog.Logger
}

// NewDispatcher creates a Dispatcher. timeout bounds a single delivery
// attempt. If logger is nil, a default logger is used.
func NewDispatcher(jobs store.JobStore, signingSecret string, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		jobs:          jobs,
		signingSecret: []byte(signingSecret),
		client:        &http.Client{Timeout: timeout},
		logger:        logger.With(slog.String("component", "webhook_dispatcher")),
	}
}

// Enqueue queues one webhook delivery. idempotencyKey deduplicates
// dispatches that represent the same logical event; empty means every
// call queues a delivery.
func (d *Dispatcher) Enqueue(
	ctx context.Context,
	url, event string,
	body any,
	idempotencyKey string,
) (duplicate bool, err error) {
	rawBody, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	payload, err := json.Marshal(DispatchPayload{URL: url, Event: event, Body: rawBody})
	if err != nil {
		return false, fmt.Errorf("failed to marshal dispatch payload: %w", err)
	}

	_, duplicate, err = d.jobs.Enqueue(ctx, store.EnqueueParams{
		Kind:           domain.JobKindWebhookDispatch,
		Payload:        payload,
		RunAt:          time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue webhook dispatch: %w", err)
	}
	return duplicate, nil
}

// HandleDispatchJob delivers one claimed webhook.dispatch job.
// Transport errors and 5xx responses are transient: the returned error
// makes the queue reschedule the delivery. 4xx responses mean the
// receiver will never accept this request, so the job completes with
// the rejection logged.
func (d *Dispatcher) HandleDispatchJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		slog.String("job_id", job.ID.String()))

	var payload DispatchPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	token, err := d.signDelivery(payload)
	if err != nil {
		return fmt.Errorf("failed to sign webhook delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, payload.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Relayq-Event", payload.Event)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery to %s failed: %w", payload.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.Info("webhook delivered",
			slog.String("url", payload.URL),
			slog.String("event", payload.Event))
		return nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The receiver has rejected this request for good; retrying
		// the identical delivery cannot succeed.
		log.Warn("webhook rejected by receiver",
			slog.String("url", payload.URL),
			slog.String("event", payload.Event),
			slog.Int("status_code", resp.StatusCode))
		return nil

	default:
		return fmt.Errorf("webhook receiver %s returned %d", payload.URL, resp.StatusCode)
	}
}

// signDelivery mints a short-lived HS256 token binding the event name
// and a digest of the body, so receivers can verify both origin and
// payload integrity.
func (d *Dispatcher) signDelivery(payload DispatchPayload) (string, error) {
	digest := sha256.Sum256(payload.Body)
	now := time.Now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":       "relayq",
		"jti":       uuid.New().String(),
		"iat":       now.Unix(),
		"exp":       now.Add(5 * time.Minute).Unix(),
		"event":     payload.Event,
		"body_sha2": hex.EncodeToString(digest[:]),
	})

	return token.SignedString(d.signingSecret)
}
