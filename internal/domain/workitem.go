package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for WorkItem
var (
	ErrEmptyWorkItemID    = errors.New("work item ID cannot be empty")
	ErrEmptyWorkItemTitle = errors.New("work item title cannot be empty")
)

// WorkItem is a scheduled unit of domain work. The queue only cares
// about its two optional deadlines: not_before triggers a reminder once
// it arrives, not_after triggers a nudge once it has passed.
type WorkItem struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	NotBefore *time.Time `json:"not_before,omitempty"`
	NotAfter  *time.Time `json:"not_after,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewWorkItem creates a new WorkItem with the given title and optional
// scheduling bounds. Returns an error if validation fails.
func NewWorkItem(title string, notBefore, notAfter *time.Time) (*WorkItem, error) {
	now := time.Now().UTC()
	item := &WorkItem{
		ID:        uuid.New(),
		Title:     title,
		NotBefore: notBefore,
		NotAfter:  notAfter,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := item.Validate(); err != nil {
		return nil, err
	}

	return item, nil
}

// Validate checks if the WorkItem has valid data.
func (w *WorkItem) Validate() error {
	if w.ID == uuid.Nil {
		return ErrEmptyWorkItemID
	}

	if w.Title == "" {
		return ErrEmptyWorkItemTitle
	}

	return nil
}
