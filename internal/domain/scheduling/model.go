package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/opd/internal/platform/calendar"
)

const (
	BookingWalkIn          = "walk_in"
	TypeConsultation       = "consultation"
	StatusScheduled        = "scheduled"
	DefaultDurationMinutes = 30
)

// Appointment maps to the appointment table.
type Appointment struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	PatientID       uuid.UUID     `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID     `db:"doctor_id" json:"doctor_id"`
	QueueEntryID    *uuid.UUID    `db:"queue_entry_id" json:"queue_entry_id,omitempty"`
	AppointmentDate calendar.Date `db:"appointment_date" json:"appointment_date"`
	AppointmentTime string        `db:"appointment_time" json:"appointment_time"`
	DurationMinutes int           `db:"duration_minutes" json:"duration_minutes"`
	Type            string        `db:"appointment_type" json:"type"`
	BookingMethod   string        `db:"booking_method" json:"booking_method"`
	Status          string        `db:"status" json:"status"`
	Notes           *string       `db:"notes" json:"notes,omitempty"`
	CreatedBy       *string       `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}
