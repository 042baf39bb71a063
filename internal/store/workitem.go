package store

import (
	"context"
	"time"

	"github.com/perchfield/relayq/internal/domain"
)

// WorkItemStore defines the read surface the due-date scanner needs.
// Version: 1.0
type WorkItemStore interface {
	// Create saves a new work item to the store.
	Create(ctx context.Context, item *domain.WorkItem) error

	// FindDueNotBefore retrieves work items whose not_before bound has
	// arrived at or before the given instant.
	FindDueNotBefore(ctx context.Context, now time.Time, limit int) ([]*domain.WorkItem, error)

	// FindDueNotAfter retrieves work items whose not_after bound has
	// passed at or before the given instant.
	FindDueNotAfter(ctx context.Context, now time.Time, limit int) ([]*domain.WorkItem, error)
}
