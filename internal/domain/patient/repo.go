package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// UpdateVitals overwrites every vitals column, clearing the ones v leaves nil.
	UpdateVitals(ctx context.Context, id uuid.UUID, v Vitals, recordedBy string, at time.Time) error
	MarkRegistrationComplete(ctx context.Context, id uuid.UUID) error
}
