package doctor

import "github.com/google/uuid"

// Doctor is a consulting physician offered at vitals completion.
type Doctor struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"full_name" json:"name"`
	Specialty       string    `db:"specialty" json:"specialty,omitempty"`
	ConsultationFee float64   `db:"consultation_fee" json:"consultation_fee"`
	Active          bool      `db:"active" json:"active"`
}

// Label is how the doctor appears on a bill line.
func (d *Doctor) Label() string {
	if d.Specialty == "" {
		return d.Name
	}
	return d.Name + " (" + d.Specialty + ")"
}
