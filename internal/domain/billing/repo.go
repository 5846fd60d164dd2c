package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create stores the bill and its items atomically.
	Create(ctx context.Context, b *ConsultationBill) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConsultationBill, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationBill, int, error)
}
