package doctor

import (
	"context"

	"github.com/google/uuid"
)

// Directory lists the doctors patients can be booked with.
type Directory interface {
	// ListActive returns active doctors ordered by name.
	ListActive(ctx context.Context) ([]*Doctor, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
}
