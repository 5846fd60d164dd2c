package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/opd/internal/platform/calendar"
)

type Repository interface {
	// InsertOrFetch allocates the next queue number for e.RegistrationDate and
	// inserts e as waiting. When the patient already holds a non-cancelled
	// entry for that date it returns that entry with created=false and no
	// number is consumed.
	InsertOrFetch(ctx context.Context, e *Entry) (entry *Entry, created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListByDate(ctx context.Context, date calendar.Date) ([]*Entry, error)
	// ListWaiting returns waiting entries, priority descending then queue
	// number ascending.
	ListWaiting(ctx context.Context, date calendar.Date) ([]*Entry, error)
	// UpdateStatus moves the entry from status from to status to. Non-nil
	// stamps overwrite called_at and completed_at. If the entry is no longer in
	// status from the update is not applied and a *apperror.StateError is
	// returned.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, calledAt, completedAt *time.Time) (*Entry, error)
}
