package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/perchfield/relayq/internal/domain"
	"github.com/perchfield/relayq/internal/platform/logger"
	"github.com/perchfield/relayq/internal/store"
)

const workItemColumns = `id, title, not_before, not_after, created_at, updated_at`

// PostgresWorkItemStore implements the store.WorkItemStore interface
// using a PostgreSQL database as the storage backend.
type PostgresWorkItemStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWorkItemStore creates a new PostgreSQL implementation of
// the WorkItemStore interface. If logger is nil, a default logger will
// be used.
func NewPostgresWorkItemStore(db store.DBTX, logger *slog.Logger) *PostgresWorkItemStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresWorkItemStore{
		db:     db,
		logger: logger.With(slog.String("component", "work_item_store")),
	}
}

// Ensure PostgresWorkItemStore implements store.WorkItemStore interface
var _ store.WorkItemStore = (*PostgresWorkItemStore)(nil)

// Create implements store.WorkItemStore.Create.
func (s *PostgresWorkItemStore) Create(ctx context.Context, item *domain.WorkItem) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := item.Validate(); err != nil {
		log.Warn("work item validation failed during create",
			slog.String("error", err.Error()),
			slog.String("work_item_id", item.ID.String()))
		return err
	}

	query := `
		INSERT INTO work_items (id, title, not_before, not_after, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		item.ID,
		item.Title,
		item.NotBefore,
		item.NotAfter,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create work item",
			slog.String("error", err.Error()),
			slog.String("work_item_id", item.ID.String()))
		return MapError(err)
	}

	return nil
}

// FindDueNotBefore implements store.WorkItemStore.FindDueNotBefore.
func (s *PostgresWorkItemStore) FindDueNotBefore(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.WorkItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM work_items
		WHERE not_before IS NOT NULL AND not_before <= $1
		ORDER BY not_before ASC
		LIMIT $2`, workItemColumns)
	return s.findDue(ctx, query, now, limit)
}

// FindDueNotAfter implements store.WorkItemStore.FindDueNotAfter.
func (s *PostgresWorkItemStore) FindDueNotAfter(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*domain.WorkItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM work_items
		WHERE not_after IS NOT NULL AND not_after <= $1
		ORDER BY not_after ASC
		LIMIT $2`, workItemColumns)
	return s.findDue(ctx, query, now, limit)
}

// findDue runs one of the due-bound queries and scans the results.
func (s *PostgresWorkItemStore) findDue(
	ctx context.Context,
	query string,
	now time.Time,
	limit int,
) ([]*domain.WorkItem, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		log.Error("failed to query due work items",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var items []*domain.WorkItem
	for rows.Next() {
		var (
			item      domain.WorkItem
			notBefore sql.NullTime
			notAfter  sql.NullTime
		)
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&notBefore,
			&notAfter,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan work item row: %w", err)
		}
		if notBefore.Valid {
			t := notBefore.Time
			item.NotBefore = &t
		}
		if notAfter.Valid {
			t := notAfter.Time
			item.NotAfter = &t
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work item rows: %w", err)
	}

	return items, nil
}
