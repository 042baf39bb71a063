package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/perchfield/relayq/internal/domain"
)

// TransitionParams carries optional provider data attached alongside a
// delivery status transition.
type TransitionParams struct {
	// ProviderMessageID is the sending channel's identifier for the
	// message, attached once known. Nil leaves the stored value as is.
	ProviderMessageID *string

	// ProviderStatusRaw is the provider's raw status payload.
	// Nil leaves the stored value as is.
	ProviderStatusRaw *string
}

// MessageStore defines the interface for outbound message persistence.
// Version: 1.0
type MessageStore interface {
	// Create saves a new message to the store.
	// It handles domain validation internally.
	Create(ctx context.Context, message *domain.Message) error

	// GetByID retrieves a message by its unique ID.
	// Returns ErrMessageNotFound if the message does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)

	// GetByProviderMessageID retrieves a message by the identifier the
	// sending channel assigned to it. Used by delivery-receipt
	// callbacks. Returns ErrMessageNotFound if no message matches.
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Message, error)

	// TransitionDeliveryStatus moves the message along the delivery
	// state machine, updating status_updated_at and attaching any
	// provider data. The transition is validated against the fixed
	// transition table under a row lock in a single transaction; an
	// illegal transition returns a domain.ErrInvalidTransition-wrapped
	// error and leaves the row untouched.
	TransitionDeliveryStatus(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, params TransitionParams) error

	// WithTx returns a new MessageStore instance that uses the provided transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) MessageStore
}
