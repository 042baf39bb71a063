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

const messageColumns = `id, channel, recipient, body, delivery_status,
		provider_message_id, provider_status_raw, status_updated_at,
		created_at, updated_at`

// PostgresMessageStore implements the store.MessageStore interface
// using a PostgreSQL database as the storage backend.
type PostgresMessageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresMessageStore creates a new PostgreSQL implementation of the
// MessageStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresMessageStore(db store.DBTX, logger *slog.Logger) *PostgresMessageStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresMessageStore{
		db:     db,
		logger: logger.With(slog.String("component", "message_store")),
	}
}

// Ensure PostgresMessageStore implements store.MessageStore interface
var _ store.MessageStore = (*PostgresMessageStore)(nil)

// Create implements store.MessageStore.Create.
// It saves a new message to the database, handling domain validation.
func (s *PostgresMessageStore) Create(ctx context.Context, message *domain.Message) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := message.Validate(); err != nil {
		log.Warn("message validation failed during create",
			slog.String("error", err.Error()),
			slog.String("message_id", message.ID.String()))
		return err
	}

	query := `
		INSERT INTO messages (id, channel, recipient, body, delivery_status,
			provider_message_id, provider_status_raw, status_updated_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		message.ID,
		message.Channel,
		message.Recipient,
		message.Body,
		message.DeliveryStatus,
		message.ProviderMessageID,
		message.ProviderStatusRaw,
		message.StatusUpdatedAt,
		message.CreatedAt,
		message.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create message",
			slog.String("error", err.Error()),
			slog.String("message_id", message.ID.String()))
		return MapError(err)
	}

	log.Info("message created",
		slog.String("message_id", message.ID.String()),
		slog.String("channel", string(message.Channel)))
	return nil
}

// GetByID implements store.MessageStore.GetByID.
// Returns store.ErrMessageNotFound if the message does not exist.
func (s *PostgresMessageStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// GetByProviderMessageID implements store.MessageStore.GetByProviderMessageID.
// Returns store.ErrMessageNotFound if no message carries the given
// provider identifier.
func (s *PostgresMessageStore) GetByProviderMessageID(
	ctx context.Context,
	providerMessageID string,
) (*domain.Message, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM messages WHERE provider_message_id = $1`, messageColumns)

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, providerMessageID))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// TransitionDeliveryStatus implements store.MessageStore.TransitionDeliveryStatus.
// The row is locked with SELECT ... FOR UPDATE for the length of one
// transaction, so the status read, the transition-table check, and the
// write see a single consistent state regardless of concurrent
// writers. A rejected transition is reported as an explicit error
// naming the state the row was actually in, never coerced to a nearby
// valid state and never dropped.
func (s *PostgresMessageStore) TransitionDeliveryStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.DeliveryStatus,
	params store.TransitionParams,
) error {
	if len(domain.TransitionSources(status)) == 0 {
		return fmt.Errorf("%w: no state may enter %s", domain.ErrInvalidTransition, status)
	}

	// Already inside a caller's transaction when db is a *sql.Tx.
	db, ok := s.db.(*sql.DB)
	if !ok {
		return s.transitionLocked(ctx, id, status, params)
	}
	return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		return s.WithTx(tx).TransitionDeliveryStatus(ctx, id, status, params)
	})
}

// transitionLocked performs the locked read-check-write. It must run
// on a transaction; calling it on a bare connection pool would release
// the row lock as soon as the select returns.
func (s *PostgresMessageStore) transitionLocked(
	ctx context.Context,
	id uuid.UUID,
	status domain.DeliveryStatus,
	params store.TransitionParams,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var current domain.DeliveryStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT delivery_status FROM messages WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if IsNotFoundError(MapError(err)) {
			return store.ErrMessageNotFound
		}
		return MapError(err)
	}

	if !domain.CanTransition(current, status) {
		log.Warn("delivery status transition rejected",
			slog.String("message_id", id.String()),
			slog.String("from", string(current)),
			slog.String("to", string(status)))
		if domain.IsTerminalDeliveryStatus(current) {
			return fmt.Errorf("%w: %s is terminal, cannot move to %s",
				domain.ErrInvalidTransition, current, status)
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			delivery_status = $2,
			provider_message_id = COALESCE($3, provider_message_id),
			provider_status_raw = COALESCE($4, provider_status_raw),
			status_updated_at = $5,
			updated_at = $5
		WHERE id = $1
	`, id, status, params.ProviderMessageID, params.ProviderStatusRaw, now)
	if err != nil {
		log.Error("failed to transition delivery status",
			slog.String("error", err.Error()),
			slog.String("message_id", id.String()),
			slog.String("to", string(status)))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// The locked row vanished before the write.
		return fmt.Errorf("%w: message %s", store.ErrUpdateFailed, id)
	}

	log.Info("delivery status transitioned",
		slog.String("message_id", id.String()),
		slog.String("to", string(status)))
	return nil
}

// WithTx implements store.MessageStore.WithTx
func (s *PostgresMessageStore) WithTx(tx *sql.Tx) store.MessageStore {
	return &PostgresMessageStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanMessage scans one full message row into a domain.Message.
func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		msg               domain.Message
		providerMessageID sql.NullString
		providerStatusRaw sql.NullString
	)

	err := row.Scan(
		&msg.ID,
		&msg.Channel,
		&msg.Recipient,
		&msg.Body,
		&msg.DeliveryStatus,
		&providerMessageID,
		&providerStatusRaw,
		&msg.StatusUpdatedAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, MapError(err)
	}

	if providerMessageID.Valid {
		msg.ProviderMessageID = &providerMessageID.String
	}
	if providerStatusRaw.Valid {
		msg.ProviderStatusRaw = &providerStatusRaw.String
	}

	return &msg, nil
}
