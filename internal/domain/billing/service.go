package billing

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/telemetry"
)

// Dispatcher creates consultation bills for walk-in appointments. It does not
// retry; callers decide what a failure means.
type Dispatcher struct {
	repo    Repository
	metrics *telemetry.Metrics
	now     func() time.Time
	loc     *time.Location
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLocation sets the zone used for the date in bill numbers.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) { d.loc = loc }
}

func NewDispatcher(repo Repository, metrics *telemetry.Metrics, opts ...Option) *Dispatcher {
	d := &Dispatcher{repo: repo, metrics: metrics, now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = telemetry.MustNewMetrics(noop.NewMeterProvider())
	}
	return d
}

type ConsultationBillRequest struct {
	PatientID     uuid.UUID
	AppointmentID uuid.UUID
	Fee           float64
	DoctorLabel   string
	StaffID       string
}

// CreateConsultationBill bills one consultation line against an appointment.
// A zero fee or a missing appointment returns (nil, nil): there is nothing to
// bill, which is not an error.
func (d *Dispatcher) CreateConsultationBill(ctx context.Context, req ConsultationBillRequest) (*ConsultationBill, error) {
	if req.Fee < 0 || math.IsNaN(req.Fee) || math.IsInf(req.Fee, 0) {
		return nil, apperror.Invalid("consultation_fee", "must be a non-negative amount")
	}
	if req.Fee == 0 || req.AppointmentID == uuid.Nil {
		return nil, nil
	}
	if req.PatientID == uuid.Nil {
		return nil, apperror.Invalid("patient_id", "is required")
	}

	id := uuid.New()
	b := &ConsultationBill{
		ID:            id,
		BillNumber:    BillNumber(d.now().In(d.loc), id),
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		DoctorLabel:   req.DoctorLabel,
		Status:        StatusUnpaid,
		Items: []BillItem{{
			Description: "Consultation - " + req.DoctorLabel,
			Quantity:    1,
			UnitPrice:   req.Fee,
			Amount:      req.Fee,
		}},
	}
	b.TotalAmount = b.Total()
	if req.StaffID != "" {
		b.CreatedBy = &req.StaffID
	}

	if err := d.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	d.metrics.BillsCreated.Add(ctx, 1)
	return b, nil
}

func (d *Dispatcher) GetBill(ctx context.Context, id uuid.UUID) (*ConsultationBill, error) {
	return d.repo.GetByID(ctx, id)
}

func (d *Dispatcher) ListBillsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ConsultationBill, int, error) {
	return d.repo.ListByPatient(ctx, patientID, limit, offset)
}
