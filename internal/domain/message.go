package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the lifecycle state of an outbound message.
type DeliveryStatus string

// Possible delivery status values. The happy path is strictly forward:
// pending → queued → sending → sent → delivered. The three failure
// states are reachable from any non-terminal state; delivered, failed,
// bounced and undelivered are terminal and absorb.
const (
	DeliveryStatusPending     DeliveryStatus = "pending"
	DeliveryStatusQueued      DeliveryStatus = "queued"
	DeliveryStatusSending     DeliveryStatus = "sending"
	DeliveryStatusSent        DeliveryStatus = "sent"
	DeliveryStatusDelivered   DeliveryStatus = "delivered"
	DeliveryStatusFailed      DeliveryStatus = "failed"
	DeliveryStatusBounced     DeliveryStatus = "bounced"
	DeliveryStatusUndelivered DeliveryStatus = "undelivered"
)

// MessageChannel identifies the transport a message goes out on.
type MessageChannel string

// Supported message channels.
const (
	MessageChannelSMS   MessageChannel = "sms"
	MessageChannelEmail MessageChannel = "email"
)

// Common validation and transition errors for Message
var (
	ErrEmptyMessageID        = errors.New("message ID cannot be empty")
	ErrEmptyMessageRecipient = errors.New("message recipient cannot be empty")
	ErrInvalidMessageChannel = errors.New("invalid message channel")
	ErrInvalidDeliveryStatus = errors.New("invalid delivery status")

	// ErrInvalidTransition is returned when a delivery status change
	// violates the transition table. It is always raised at write time,
	// never silently ignored and never clamped to a nearby valid state.
	ErrInvalidTransition = errors.New("invalid delivery status transition")
)

// deliveryTransitions is the complete transition table. A status absent
// from the map is terminal: it has no outgoing edges.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusPending: {
		DeliveryStatusQueued,
		DeliveryStatusFailed, DeliveryStatusBounced, DeliveryStatusUndelivered,
	},
	DeliveryStatusQueued: {
		DeliveryStatusSending,
		DeliveryStatusFailed, DeliveryStatusBounced, DeliveryStatusUndelivered,
	},
	DeliveryStatusSending: {
		DeliveryStatusSent,
		DeliveryStatusFailed, DeliveryStatusBounced, DeliveryStatusUndelivered,
	},
	DeliveryStatusSent: {
		DeliveryStatusDelivered,
		DeliveryStatusFailed, DeliveryStatusBounced, DeliveryStatusUndelivered,
	},
}

// CanTransition reports whether the delivery status may move from one
// state to another along an edge of the transition table.
func CanTransition(from, to DeliveryStatus) bool {
	for _, next := range deliveryTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns the states from which the given status is
// reachable in one step. Used by the store to guard the transition in
// the update statement itself.
func TransitionSources(to DeliveryStatus) []DeliveryStatus {
	var sources []DeliveryStatus
	for from, nexts := range deliveryTransitions {
		for _, next := range nexts {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// IsTerminalDeliveryStatus reports whether the given status has no
// outgoing transitions.
func IsTerminalDeliveryStatus(status DeliveryStatus) bool {
	switch status {
	case DeliveryStatusDelivered, DeliveryStatusFailed,
		DeliveryStatusBounced, DeliveryStatusUndelivered:
		return true
	default:
		return false
	}
}

// Message represents a unit of outbound communication with an external
// channel. Its delivery status is tracked through a guarded state
// machine fed by the worker that performs the send and by asynchronous
// delivery-receipt callbacks from the provider.
type Message struct {
	ID                uuid.UUID      `json:"id"`
	Channel           MessageChannel `json:"channel"`
	Recipient         string         `json:"recipient"`
	Body              string         `json:"body"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
	ProviderStatusRaw *string        `json:"provider_status_raw,omitempty"`
	StatusUpdatedAt   time.Time      `json:"status_updated_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewMessage creates a new Message in the pending delivery state.
// Returns an error if validation fails.
func NewMessage(channel MessageChannel, recipient, body string) (*Message, error) {
	now := time.Now().UTC()
	msg := &Message{
		ID:              uuid.New(),
		Channel:         channel,
		Recipient:       recipient,
		Body:            body,
		DeliveryStatus:  DeliveryStatusPending,
		StatusUpdatedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

// Validate checks if the Message has valid data.
// Returns an error if any field fails validation.
func (m *Message) Validate() error {
	if m.ID == uuid.Nil {
		return ErrEmptyMessageID
	}

	if m.Channel != MessageChannelSMS && m.Channel != MessageChannelEmail {
		return ErrInvalidMessageChannel
	}

	if m.Recipient == "" {
		return ErrEmptyMessageRecipient
	}

	if !isValidDeliveryStatus(m.DeliveryStatus) {
		return ErrInvalidDeliveryStatus
	}

	return nil
}

// TransitionTo moves the message to the given delivery status if the
// transition table allows it, updating StatusUpdatedAt. Returns an
// ErrInvalidTransition-wrapped error otherwise; the message is left
// unchanged on rejection.
func (m *Message) TransitionTo(status DeliveryStatus) error {
	if !isValidDeliveryStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDeliveryStatus, status)
	}

	if !CanTransition(m.DeliveryStatus, status) {
		if IsTerminalDeliveryStatus(m.DeliveryStatus) {
			return fmt.Errorf("%w: %s is terminal, cannot move to %s",
				ErrInvalidTransition, m.DeliveryStatus, status)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.DeliveryStatus, status)
	}

	now := time.Now().UTC()
	m.DeliveryStatus = status
	m.StatusUpdatedAt = now
	m.UpdatedAt = now
	return nil
}

// isValidDeliveryStatus checks if the given status is a valid DeliveryStatus.
func isValidDeliveryStatus(status DeliveryStatus) bool {
	switch status {
	case DeliveryStatusPending, DeliveryStatusQueued, DeliveryStatusSending,
		DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusFailed,
		DeliveryStatusBounced, DeliveryStatusUndelivered:
		return true
	default:
		return false
	}
}
