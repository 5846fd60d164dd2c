package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, id)
}

// RecordVitals validates the raw payload and stores it on the patient. Nothing
// is written when any field fails to parse.
func (s *Service) RecordVitals(ctx context.Context, id uuid.UUID, in VitalsInput, staffID string) (Vitals, error) {
	v, err := ParseVitals(in)
	if err != nil {
		return Vitals{}, err
	}
	if err := s.repo.UpdateVitals(ctx, id, v, staffID, s.now()); err != nil {
		return Vitals{}, fmt.Errorf("save vitals for patient %s: %w", id, err)
	}
	return v, nil
}

func (s *Service) MarkRegistrationComplete(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkRegistrationComplete(ctx, id)
}
