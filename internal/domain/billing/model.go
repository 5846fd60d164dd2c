package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const StatusUnpaid = "unpaid"

// ConsultationBill maps to the consultation_bill table.
type ConsultationBill struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	BillNumber    string     `db:"bill_number" json:"bill_number"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	DoctorLabel   string     `db:"doctor_label" json:"doctor_label"`
	TotalAmount   float64    `db:"total_amount" json:"total_amount"`
	Status        string     `db:"status" json:"status"`
	Items         []BillItem `json:"items"`
	CreatedBy     *string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// BillItem maps to the consultation_bill_item table.
type BillItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	BillID      uuid.UUID `db:"bill_id" json:"bill_id"`
	Description string    `db:"description" json:"description"`
	Quantity    int       `db:"quantity" json:"quantity"`
	UnitPrice   float64   `db:"unit_price" json:"unit_price"`
	Amount      float64   `db:"amount" json:"amount"`
}

// Total sums the item amounts.
func (b *ConsultationBill) Total() float64 {
	var sum float64
	for _, it := range b.Items {
		sum += it.Amount
	}
	return sum
}

// BillNumber formats a human readable bill number from the issue date and
// the bill id, e.g. CB-20261019-3F2A9C1D.
func BillNumber(issued time.Time, id uuid.UUID) string {
	return "CB-" + issued.Format("20060102") + "-" + strings.ToUpper(id.String()[:8])
}
