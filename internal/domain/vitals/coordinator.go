// Package vitals completes the clinical intake of a queued visit. Saving the
// vitals is the only step that can fail the request; closing the queue entry,
// booking the walk-in appointment and billing the consultation are best
// effort and degrade to logged warnings.
package vitals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/opd/internal/domain/billing"
	"github.com/ehr/opd/internal/domain/doctor"
	"github.com/ehr/opd/internal/domain/patient"
	"github.com/ehr/opd/internal/domain/queue"
	"github.com/ehr/opd/internal/domain/scheduling"
	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/telemetry"
)

// Side effect steps, as they appear in logs and the warning counter.
const (
	StepQueue       = "queue_complete"
	StepDoctor      = "doctor_lookup"
	StepAppointment = "appointment"
	StepBill        = "consultation_bill"
)

type VitalsRecorder interface {
	RecordVitals(ctx context.Context, id uuid.UUID, in patient.VitalsInput, staffID string) (patient.Vitals, error)
}

type QueueCompleter interface {
	Get(ctx context.Context, id uuid.UUID) (*queue.Entry, error)
	Transition(ctx context.Context, id uuid.UUID, to queue.Status) (*queue.Entry, error)
}

type AppointmentBooker interface {
	CreateWalkIn(ctx context.Context, req scheduling.WalkInRequest) (*scheduling.Appointment, error)
}

type BillDispatcher interface {
	CreateConsultationBill(ctx context.Context, req billing.ConsultationBillRequest) (*billing.ConsultationBill, error)
}

// DoctorSelection is the consulting doctor picked at the vitals desk. A nil
// ConsultationFee means the directory fee applies.
type DoctorSelection struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	ConsultationFee *float64  `json:"consultation_fee,omitempty"`
}

type CompleteRequest struct {
	QueueID   *uuid.UUID          `json:"queue_id,omitempty"`
	PatientID uuid.UUID           `json:"patient_id"`
	Vitals    patient.VitalsInput `json:"vitals"`
	Doctor    *DoctorSelection    `json:"doctor,omitempty"`
	StaffID   string              `json:"-"`
}

// Result is returned whenever the vitals were saved. Appointment and Bill are
// nil when the corresponding step was skipped or failed.
type Result struct {
	Success     bool                         `json:"success"`
	Vitals      patient.Vitals               `json:"vitals"`
	Appointment *scheduling.Appointment      `json:"appointment,omitempty"`
	Bill        *billing.ConsultationBill    `json:"bill,omitempty"`
	Warnings    []apperror.SideEffectWarning `json:"-"`
}

type Coordinator struct {
	patients     VitalsRecorder
	queue        QueueCompleter
	doctors      doctor.Directory
	appointments AppointmentBooker
	bills        BillDispatcher
	metrics      *telemetry.Metrics
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

func NewCoordinator(
	patients VitalsRecorder,
	q QueueCompleter,
	doctors doctor.Directory,
	appointments AppointmentBooker,
	bills BillDispatcher,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) *Coordinator {
	if metrics == nil {
		metrics = telemetry.MustNewMetrics(noop.NewMeterProvider())
	}
	return &Coordinator{
		patients:     patients,
		queue:        q,
		doctors:      doctors,
		appointments: appointments,
		bills:        bills,
		metrics:      metrics,
		logger:       logger,
		tracer:       telemetry.Tracer(),
		now:          time.Now,
	}
}

// CompleteVitals saves the vitals and then runs the side effects in order.
// Only a failure to save the vitals is returned as an error.
func (c *Coordinator) CompleteVitals(ctx context.Context, req CompleteRequest) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "vitals.complete", trace.WithAttributes(
		attribute.String("patient_id", req.PatientID.String()),
		attribute.Bool("has_queue_entry", req.QueueID != nil),
		attribute.Bool("has_doctor", req.Doctor != nil),
	))
	defer span.End()

	if req.PatientID == uuid.Nil {
		return nil, apperror.Invalid("patient_id", "is required")
	}
	if req.Doctor != nil && req.Doctor.ConsultationFee != nil {
		if f := *req.Doctor.ConsultationFee; f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, apperror.Invalid("doctor.consultation_fee", "must be a non-negative amount")
		}
	}

	v, err := c.patients.RecordVitals(ctx, req.PatientID, req.Vitals, req.StaffID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record vitals")
		return nil, err
	}
	c.metrics.VitalsCompleted.Add(ctx, 1)

	res := &Result{Success: true, Vitals: v}

	// The appointment only references an entry known to be the patient's.
	var queueRef *uuid.UUID
	if req.QueueID != nil {
		owned, err := c.completeQueueEntry(ctx, req)
		if err != nil {
			c.warn(ctx, res, req, StepQueue, err)
		}
		if owned {
			queueRef = req.QueueID
		}
	}

	if req.Doctor == nil {
		return res, nil
	}

	doc, err := c.doctors.GetByID(ctx, req.Doctor.DoctorID)
	if err == nil && !doc.Active {
		err = apperror.Invalid("doctor.doctor_id", "doctor %s is not active", doc.ID)
	}
	if err != nil {
		c.warn(ctx, res, req, StepDoctor, err)
		return res, nil
	}

	appt, err := c.appointments.CreateWalkIn(ctx, scheduling.WalkInRequest{
		PatientID:    req.PatientID,
		DoctorID:     doc.ID,
		QueueEntryID: queueRef,
		StaffID:      req.StaffID,
	})
	if err != nil {
		// no appointment, nothing to bill against
		c.warn(ctx, res, req, StepAppointment, err)
		return res, nil
	}
	res.Appointment = appt

	fee := doc.ConsultationFee
	if req.Doctor.ConsultationFee != nil {
		fee = *req.Doctor.ConsultationFee
	}
	if fee <= 0 {
		return res, nil
	}

	bill, err := c.bills.CreateConsultationBill(ctx, billing.ConsultationBillRequest{
		PatientID:     req.PatientID,
		AppointmentID: appt.ID,
		Fee:           fee,
		DoctorLabel:   doc.Label(),
		StaffID:       req.StaffID,
	})
	if err != nil {
		c.warn(ctx, res, req, StepBill, err)
		return res, nil
	}
	res.Bill = bill
	return res, nil
}

// completeQueueEntry closes the visit's queue entry. owned reports whether the
// entry was found and belongs to the patient; a foreign entry is left as is.
func (c *Coordinator) completeQueueEntry(ctx context.Context, req CompleteRequest) (owned bool, err error) {
	entry, err := c.queue.Get(ctx, *req.QueueID)
	if err != nil {
		return false, err
	}
	if entry.PatientID != req.PatientID {
		return false, apperror.Invalid("queue_id", "entry %s belongs to another patient", entry.ID)
	}
	_, err = c.queue.Transition(ctx, entry.ID, queue.StatusCompleted)
	return true, err
}

func (c *Coordinator) warn(ctx context.Context, res *Result, req CompleteRequest, step string, err error) {
	w := apperror.SideEffectWarning{Step: step, Err: err, At: c.now()}
	res.Warnings = append(res.Warnings, w)

	queueID := ""
	if req.QueueID != nil {
		queueID = req.QueueID.String()
	}
	c.logger.Warn().
		Str("step", step).
		Str("patient_id", req.PatientID.String()).
		Str("queue_id", queueID).
		Err(err).
		Msg("vitals side effect failed")

	c.metrics.SideEffectWarnings.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	trace.SpanFromContext(ctx).AddEvent("side_effect_warning", trace.WithAttributes(
		attribute.String("step", step),
		attribute.String("error", fmt.Sprint(err)),
	))
}
