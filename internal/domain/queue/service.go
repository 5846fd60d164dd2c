package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/calendar"
	"github.com/ehr/opd/internal/platform/db"
	"github.com/ehr/opd/internal/platform/events"
	"github.com/ehr/opd/internal/platform/telemetry"
)

// PatientRecords is the slice of the patient store the queue needs.
type PatientRecords interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRegistrationComplete(ctx context.Context, id uuid.UUID) error
}

// callNextAttempts bounds retries when another desk calls the same patient.
const callNextAttempts = 3

type Service struct {
	repo     Repository
	patients PatientRecords
	events   events.Publisher
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
	loc      *time.Location
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the clinic time zone that defines "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func NewService(repo Repository, patients PatientRecords, pub events.Publisher, metrics *telemetry.Metrics, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		patients: patients,
		events:   pub,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.metrics == nil {
		s.metrics = telemetry.MustNewMetrics(noop.NewMeterProvider())
	}
	return s
}

// Today returns the current clinic date.
func (s *Service) Today() calendar.Date {
	return calendar.Today(s.now(), s.loc)
}

func (s *Service) dateOrToday(d calendar.Date) calendar.Date {
	if d.IsZero() {
		return s.Today()
	}
	return d
}

type EnqueueRequest struct {
	PatientID uuid.UUID     `json:"patient_id"`
	Date      calendar.Date `json:"date"`
	Priority  Priority      `json:"priority"`
	Notes     string        `json:"notes"`
	StaffID   string        `json:"-"`
}

// Enqueue places a patient in the queue for a clinic date, today when Date is
// zero. A patient already queued that day gets the existing entry back with
// created=false.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*Entry, bool, error) {
	if req.PatientID == uuid.Nil {
		return nil, false, apperror.Invalid("patient_id", "is required")
	}
	if !req.Priority.Valid() {
		return nil, false, apperror.Invalid("priority", "must be 0 (normal), 1 (high) or 2 (urgent), got %d", req.Priority)
	}
	ok, err := s.patients.Exists(ctx, req.PatientID)
	if err != nil {
		return nil, false, fmt.Errorf("look up patient: %w", err)
	}
	if !ok {
		return nil, false, apperror.Invalid("patient_id", "patient %s does not exist", req.PatientID)
	}

	entry, created, err := s.repo.InsertOrFetch(ctx, &Entry{
		PatientID:        req.PatientID,
		RegistrationDate: s.dateOrToday(req.Date),
		RegistrationTime: s.now(),
		Status:           StatusWaiting,
		Priority:         req.Priority,
		Notes:            req.Notes,
		CreatedBy:        req.StaffID,
	})
	if err != nil {
		return nil, false, err
	}

	s.count(ctx, s.metrics.QueueEnqueued, attribute.Bool("created", created))
	if created {
		s.publish(ctx, "queue.enqueued", entry)
	}
	return entry, created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByDate returns every entry of the date in queue number order.
func (s *Service) ListByDate(ctx context.Context, date calendar.Date) ([]*Entry, error) {
	return s.repo.ListByDate(ctx, s.dateOrToday(date))
}

// ListWaiting returns the waiting entries of the date, urgent first and
// first come first served within a priority.
func (s *Service) ListWaiting(ctx context.Context, date calendar.Date) ([]*Entry, error) {
	return s.repo.ListWaiting(ctx, s.dateOrToday(date))
}

// Transition moves an entry to a new status. Entering in_progress stamps
// called_at, entering completed stamps completed_at and marks the patient's
// registration complete.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status) (*Entry, error) {
	if !to.Valid() {
		return nil, apperror.Invalid("status", "unknown status %q", to)
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, &apperror.StateError{From: string(current.Status), To: string(to)}
	}

	now := s.now()
	var calledAt, completedAt *time.Time
	switch to {
	case StatusInProgress:
		calledAt = &now
	case StatusCompleted:
		completedAt = &now
	}

	entry, err := s.repo.UpdateStatus(ctx, id, current.Status, to, calledAt, completedAt)
	if err != nil {
		return nil, err
	}
	s.count(ctx, s.metrics.QueueTransitions, attribute.String("to", string(to)))

	if to == StatusCompleted {
		if err := s.patients.MarkRegistrationComplete(ctx, entry.PatientID); err != nil {
			s.logger.Warn().Err(err).
				Str("queue_id", entry.ID.String()).
				Str("patient_id", entry.PatientID.String()).
				Msg("mark registration complete failed")
		}
	}

	s.publish(ctx, eventType(to), entry)
	return entry, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.Transition(ctx, id, StatusCancelled)
}

// CallNext moves the head of the waiting list to in_progress. It returns
// apperror.ErrNotFound when nobody is waiting.
func (s *Service) CallNext(ctx context.Context, date calendar.Date) (*Entry, error) {
	date = s.dateOrToday(date)
	for attempt := 0; attempt < callNextAttempts; attempt++ {
		waiting, err := s.repo.ListWaiting(ctx, date)
		if err != nil {
			return nil, err
		}
		if len(waiting) == 0 {
			return nil, fmt.Errorf("no patient waiting on %s: %w", date, apperror.ErrNotFound)
		}
		entry, err := s.Transition(ctx, waiting[0].ID, StatusInProgress)
		if apperror.IsState(err) {
			// another desk took this patient, look again
			continue
		}
		return entry, err
	}
	return nil, &apperror.ConcurrencyError{Op: "call next patient", Err: errors.New("head of queue kept changing")}
}

func (s *Service) Stats(ctx context.Context, date calendar.Date) (Stats, error) {
	date = s.dateOrToday(date)
	entries, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(date, entries), nil
}

func eventType(status Status) string {
	switch status {
	case StatusInProgress:
		return "queue.called"
	case StatusCompleted:
		return "queue.completed"
	case StatusCancelled:
		return "queue.cancelled"
	}
	return "queue." + string(status)
}

func (s *Service) publish(ctx context.Context, eventType string, e *Entry) {
	ev, err := events.New(eventType, Topic(e.RegistrationDate), "QueueEntry", e.ID.String(), e)
	if err == nil {
		ev.FacilityID = db.FacilityFromContext(ctx)
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("queue_id", e.ID.String()).Msg("publish queue event failed")
	}
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
