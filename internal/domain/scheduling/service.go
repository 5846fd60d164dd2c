package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/opd/internal/platform/apperror"
)

type Service struct {
	appointments AppointmentRepository
	now          func() time.Time
	loc          *time.Location
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the clinic time zone whose wall clock drives NextSlot.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func NewService(appt AppointmentRepository, opts ...Option) *Service {
	s := &Service{appointments: appt, now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextSlot is NextSlot evaluated on the clinic wall clock.
func (s *Service) NextSlot() Slot {
	return NextSlot(s.now().In(s.loc))
}

type WalkInRequest struct {
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	QueueEntryID *uuid.UUID
	StaffID      string
}

// CreateWalkIn books the patient into the next free-standing slot with the
// doctor. The slot is not checked against the doctor's other bookings.
func (s *Service) CreateWalkIn(ctx context.Context, req WalkInRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperror.Invalid("patient_id", "is required")
	}
	if req.DoctorID == uuid.Nil {
		return nil, apperror.Invalid("doctor_id", "is required")
	}
	slot := s.NextSlot()
	a := &Appointment{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		QueueEntryID:    req.QueueEntryID,
		AppointmentDate: slot.Date,
		AppointmentTime: slot.Time,
		DurationMinutes: DefaultDurationMinutes,
		Type:            TypeConsultation,
		BookingMethod:   BookingWalkIn,
		Status:          StatusScheduled,
	}
	if req.StaffID != "" {
		a.CreatedBy = &req.StaffID
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, patientID, limit, offset)
}
