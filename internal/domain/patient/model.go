package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/opd/internal/platform/calendar"
)

// Patient maps to the patient table. Demographics are maintained by the
// registration desk; this service only reads them and writes vitals.
type Patient struct {
	ID                   uuid.UUID     `db:"id" json:"id"`
	MRN                  string        `db:"mrn" json:"mrn"`
	FullName             string        `db:"full_name" json:"full_name"`
	DateOfBirth          calendar.Date `db:"date_of_birth" json:"date_of_birth"`
	Gender               *string       `db:"gender" json:"gender,omitempty"`
	Phone                *string       `db:"phone" json:"phone,omitempty"`
	RegistrationComplete bool          `db:"registration_complete" json:"registration_complete"`
	Vitals               Vitals        `json:"vitals"`
	VitalsRecordedAt     *time.Time    `db:"vitals_recorded_at" json:"vitals_recorded_at,omitempty"`
	VitalsRecordedBy     *string       `db:"vitals_recorded_by" json:"vitals_recorded_by,omitempty"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
}

// Vitals are the measurements taken at the nurse station. A nil field was not
// measured.
type Vitals struct {
	Systolic         *int     `db:"systolic" json:"systolic,omitempty"`
	Diastolic        *int     `db:"diastolic" json:"diastolic,omitempty"`
	HeartRate        *int     `db:"heart_rate" json:"heart_rate,omitempty"`
	RespiratoryRate  *int     `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	Temperature      *float64 `db:"temperature" json:"temperature,omitempty"`
	Weight           *float64 `db:"weight" json:"weight,omitempty"`
	Height           *float64 `db:"height" json:"height,omitempty"`
	OxygenSaturation *int     `db:"oxygen_saturation" json:"oxygen_saturation,omitempty"`
	BMI              *float64 `db:"bmi" json:"bmi,omitempty"`
}
