package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/calendar"
	"github.com/ehr/opd/internal/platform/events"
	"github.com/ehr/opd/internal/platform/telemetry"
)

// -- Mocks --

// mockRepo keeps entries in memory. One mutex stands in for the counter row
// lock, so allocation and the existence check happen atomically.
type mockRepo struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]*Entry
	counters map[calendar.Date]int
	seqErr   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{entries: make(map[uuid.UUID]*Entry), counters: make(map[calendar.Date]int)}
}

func (m *mockRepo) InsertOrFetch(_ context.Context, e *Entry) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seqErr != nil {
		return nil, false, &apperror.ConcurrencyError{Op: "allocate queue number", Err: m.seqErr}
	}
	for _, existing := range m.entries {
		if existing.PatientID == e.PatientID && existing.RegistrationDate == e.RegistrationDate && existing.Status != StatusCancelled {
			cp := *existing
			return &cp, false, nil
		}
	}
	m.counters[e.RegistrationDate]++
	stored := *e
	stored.ID = uuid.New()
	stored.QueueNumber = m.counters[e.RegistrationDate]
	stored.Status = StatusWaiting
	stored.CreatedAt = e.RegistrationTime
	stored.UpdatedAt = e.RegistrationTime
	m.entries[stored.ID] = &stored
	cp := stored
	return &cp, true, nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockRepo) ListByDate(_ context.Context, date calendar.Date) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.RegistrationDate == date {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out, nil
}

func (m *mockRepo) ListWaiting(ctx context.Context, date calendar.Date) ([]*Entry, error) {
	all, _ := m.ListByDate(ctx, date)
	var out []*Entry
	for _, e := range all {
		if e.Status == StatusWaiting {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].QueueNumber < out[j].QueueNumber
	})
	return out, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, calledAt, completedAt *time.Time) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	if e.Status != from {
		return nil, &apperror.StateError{From: string(e.Status), To: string(to)}
	}
	e.Status = to
	if calledAt != nil {
		e.CalledAt = calledAt
	}
	if completedAt != nil {
		e.CompletedAt = completedAt
	}
	cp := *e
	return &cp, nil
}

type mockPatients struct {
	mu        sync.Mutex
	known     map[uuid.UUID]bool
	completed map[uuid.UUID]int
	markErr   error
}

func newMockPatients() *mockPatients {
	return &mockPatients{known: make(map[uuid.UUID]bool), completed: make(map[uuid.UUID]int)}
}

func (m *mockPatients) add() uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.known[id] = true
	m.mu.Unlock()
	return id
}

func (m *mockPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known[id], nil
}

func (m *mockPatients) MarkRegistrationComplete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.completed[id]++
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

var clinicNow = time.Date(2026, 10, 19, 10, 5, 0, 0, time.UTC)

type testEnv struct {
	svc      *Service
	repo     *mockRepo
	patients *mockPatients
	pub      *recordingPublisher
	reader   *sdkmetric.ManualReader
	now      *time.Time
}

func newTestService() *testEnv {
	now := clinicNow
	reader := sdkmetric.NewManualReader()
	env := &testEnv{
		repo:     newMockRepo(),
		patients: newMockPatients(),
		pub:      &recordingPublisher{},
		reader:   reader,
		now:      &now,
	}
	metrics := telemetry.MustNewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	env.svc = NewService(env.repo, env.patients, env.pub, metrics, zerolog.Nop(),
		WithClock(func() time.Time { return *env.now }))
	return env
}

func (env *testEnv) enqueue(t *testing.T, priority Priority) *Entry {
	t.Helper()
	e, created, err := env.svc.Enqueue(context.Background(), EnqueueRequest{PatientID: env.patients.add(), Priority: priority})
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	return e
}

// -- Enqueue --

func TestEnqueue_DefaultsToToday(t *testing.T) {
	env := newTestService()
	e := env.enqueue(t, PriorityNormal)

	if e.RegistrationDate != calendar.New(2026, 10, 19) {
		t.Errorf("expected today, got %s", e.RegistrationDate)
	}
	if e.QueueNumber != 1 || e.Status != StatusWaiting {
		t.Errorf("unexpected entry %+v", e)
	}
	if got := env.pub.types(); len(got) != 1 || got[0] != "queue.enqueued" {
		t.Errorf("expected one queue.enqueued event, got %v", got)
	}
	if env.pub.events[0].Topic != "queue/2026-10-19" {
		t.Errorf("unexpected topic %s", env.pub.events[0].Topic)
	}
}

func TestEnqueue_ClinicTimezoneDefinesToday(t *testing.T) {
	env := newTestService()
	jakarta := time.FixedZone("WIB", 7*3600)
	env.svc = NewService(env.repo, env.patients, env.pub, nil, zerolog.Nop(),
		WithClock(func() time.Time { return time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC) }),
		WithLocation(jakarta))

	e, _, err := env.svc.Enqueue(context.Background(), EnqueueRequest{PatientID: env.patients.add()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.RegistrationDate != calendar.New(2026, 10, 20) {
		t.Errorf("expected 2026-10-20 in clinic zone, got %s", e.RegistrationDate)
	}
}

func TestEnqueue_ConcurrentNumbersAreGapless(t *testing.T) {
	env := newTestService()
	const n = 40

	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = env.patients.add()
	}

	var wg sync.WaitGroup
	numbers := make(chan int, n)
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			e, _, err := env.svc.Enqueue(context.Background(), EnqueueRequest{PatientID: id})
			if err != nil {
				errs <- err
				return
			}
			numbers <- e.QueueNumber
		}(id)
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("enqueue failed: %v", err)
	}
	seen := make(map[int]bool)
	for num := range numbers {
		if seen[num] {
			t.Fatalf("duplicate queue number %d", num)
		}
		seen[num] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing queue number %d", i)
		}
	}
}

func TestEnqueue_Idempotent(t *testing.T) {
	env := newTestService()
	pid := env.patients.add()
	ctx := context.Background()

	first, created, err := env.svc.Enqueue(ctx, EnqueueRequest{PatientID: pid, Notes: "fever"})
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	env.enqueue(t, PriorityNormal)

	second, created, err := env.svc.Enqueue(ctx, EnqueueRequest{PatientID: pid, Notes: "changed"})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created {
		t.Error("second enqueue must not create a new entry")
	}
	if second.ID != first.ID || second.QueueNumber != first.QueueNumber || second.Notes != "fever" {
		t.Errorf("expected the existing entry unchanged, got %+v", second)
	}

	// a third distinct patient continues the sequence without a gap
	third := env.enqueue(t, PriorityNormal)
	if third.QueueNumber != 3 {
		t.Errorf("expected number 3, got %d", third.QueueNumber)
	}
	if got := env.pub.types(); len(got) != 3 {
		t.Errorf("re-enqueue must not publish, got %v", got)
	}
}

func TestEnqueue_AfterCancelGetsNewNumber(t *testing.T) {
	env := newTestService()
	pid := env.patients.add()
	ctx := context.Background()

	first, _, _ := env.svc.Enqueue(ctx, EnqueueRequest{PatientID: pid})
	if _, err := env.svc.Cancel(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	again, created, err := env.svc.Enqueue(ctx, EnqueueRequest{PatientID: pid})
	if err != nil || !created {
		t.Fatalf("re-enqueue after cancel: created=%v err=%v", created, err)
	}
	if again.QueueNumber != 2 {
		t.Errorf("cancelled numbers are never reused, expected 2 got %d", again.QueueNumber)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	env := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{"missing patient", EnqueueRequest{}},
		{"unknown patient", EnqueueRequest{PatientID: uuid.New()}},
		{"priority too high", EnqueueRequest{PatientID: env.patients.add(), Priority: 3}},
		{"negative priority", EnqueueRequest{PatientID: env.patients.add(), Priority: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.svc.Enqueue(ctx, tt.req)
			if !apperror.IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if len(env.repo.entries) != 0 {
		t.Error("validation failures must not write")
	}
}

func TestEnqueue_SequenceFailureAborts(t *testing.T) {
	env := newTestService()
	env.repo.seqErr = errors.New("connection refused")

	_, _, err := env.svc.Enqueue(context.Background(), EnqueueRequest{PatientID: env.patients.add()})
	if !apperror.IsConcurrency(err) {
		t.Fatalf("expected ConcurrencyError, got %v", err)
	}
	if len(env.pub.events) != 0 {
		t.Error("failed enqueue must not publish")
	}
}

func TestEnqueue_PublishFailureIsNotFatal(t *testing.T) {
	env := newTestService()
	env.pub.err = errors.New("nats down")
	if _, _, err := env.svc.Enqueue(context.Background(), EnqueueRequest{PatientID: env.patients.add()}); err != nil {
		t.Fatalf("publish failure must not fail enqueue: %v", err)
	}
}

// -- Ordering --

func TestListWaiting_PriorityThenArrival(t *testing.T) {
	env := newTestService()
	n1 := env.enqueue(t, PriorityNormal)
	u2 := env.enqueue(t, PriorityUrgent)
	h3 := env.enqueue(t, PriorityHigh)
	n4 := env.enqueue(t, PriorityNormal)
	u5 := env.enqueue(t, PriorityUrgent)
	called := env.enqueue(t, PriorityUrgent)
	if _, err := env.svc.Transition(context.Background(), called.ID, StatusInProgress); err != nil {
		t.Fatalf("transition: %v", err)
	}

	got, err := env.svc.ListWaiting(context.Background(), calendar.Date{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []uuid.UUID{u2.ID, u5.ID, h3.ID, n1.ID, n4.ID}
	if len(got) != len(want) {
		t.Fatalf("expected %d waiting, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("position %d: expected #%d, got #%d", i, i, got[i].QueueNumber)
		}
	}
}

// -- Transitions --

func TestTransition_CompletedStampsAndMarksPatient(t *testing.T) {
	env := newTestService()
	e := env.enqueue(t, PriorityNormal)
	*env.now = clinicNow.Add(25 * time.Minute)

	done, err := env.svc.Transition(context.Background(), e.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil || !done.CompletedAt.Equal(*env.now) {
		t.Errorf("expected completed with completed_at stamped, got %+v", done)
	}
	if done.CalledAt != nil {
		t.Error("called_at must stay empty when skipping in_progress")
	}
	if env.patients.completed[e.PatientID] != 1 {
		t.Error("expected registration complete signal")
	}
	if got := env.pub.types(); got[len(got)-1] != "queue.completed" {
		t.Errorf("expected queue.completed event, got %v", got)
	}
}

func TestTransition_InProgressStampsCalledAt(t *testing.T) {
	env := newTestService()
	e := env.enqueue(t, PriorityNormal)

	called, err := env.svc.Transition(context.Background(), e.ID, StatusInProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called.CalledAt == nil || called.CompletedAt != nil {
		t.Errorf("expected only called_at stamped, got %+v", called)
	}
	if env.patients.completed[e.PatientID] != 0 {
		t.Error("in_progress must not signal registration complete")
	}
}

func TestTransition_Illegal(t *testing.T) {
	env := newTestService()
	ctx := context.Background()

	cancelled := env.enqueue(t, PriorityNormal)
	if _, err := env.svc.Cancel(ctx, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	completed := env.enqueue(t, PriorityNormal)
	if _, err := env.svc.Transition(ctx, completed.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	tests := []struct {
		name string
		id   uuid.UUID
		to   Status
	}{
		{"cancelled to completed", cancelled.ID, StatusCompleted},
		{"completed to waiting", completed.ID, StatusWaiting},
		{"completed to cancelled", completed.ID, StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := env.repo.GetByID(ctx, tt.id)
			_, err := env.svc.Transition(ctx, tt.id, tt.to)
			if !apperror.IsState(err) {
				t.Fatalf("expected StateError, got %v", err)
			}
			after, _ := env.repo.GetByID(ctx, tt.id)
			if after.Status != before.Status {
				t.Error("rejected transition must not write")
			}
		})
	}
}

func TestTransition_UnknownStatusAndEntry(t *testing.T) {
	env := newTestService()
	e := env.enqueue(t, PriorityNormal)

	if _, err := env.svc.Transition(context.Background(), e.ID, "paused"); !apperror.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if _, err := env.svc.Transition(context.Background(), uuid.New(), StatusCompleted); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition_PatientSignalFailureIsNotFatal(t *testing.T) {
	env := newTestService()
	e := env.enqueue(t, PriorityNormal)
	env.patients.markErr = fmt.Errorf("patient store offline")

	if _, err := env.svc.Transition(context.Background(), e.ID, StatusCompleted); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

// -- CallNext --

func TestCallNext(t *testing.T) {
	env := newTestService()
	ctx := context.Background()

	if _, err := env.svc.CallNext(ctx, calendar.Date{}); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
	}

	env.enqueue(t, PriorityNormal)
	urgent := env.enqueue(t, PriorityUrgent)

	called, err := env.svc.CallNext(ctx, calendar.Date{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called.ID != urgent.ID || called.Status != StatusInProgress {
		t.Errorf("expected urgent patient called, got %+v", called)
	}
}

// -- Stats --

func TestStats(t *testing.T) {
	env := newTestService()
	ctx := context.Background()

	env.enqueue(t, PriorityNormal)
	inProgress := env.enqueue(t, PriorityNormal)
	done := env.enqueue(t, PriorityNormal)
	neverDone := env.enqueue(t, PriorityNormal)

	_, _ = env.svc.Transition(ctx, inProgress.ID, StatusInProgress)
	*env.now = clinicNow.Add(40 * time.Minute)
	_, _ = env.svc.Transition(ctx, done.ID, StatusCompleted)
	_, _ = env.svc.Cancel(ctx, neverDone.ID)

	st, err := env.svc.Stats(ctx, calendar.New(2026, 10, 19))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalWaiting != 1 || st.TotalInProgress != 1 || st.TotalCompleted != 1 || st.TotalCancelled != 1 {
		t.Errorf("unexpected counts %+v", st)
	}
	if st.AverageWaitTime != 40 {
		t.Errorf("expected 40 minute average, got %v", st.AverageWaitTime)
	}
}

// -- Metrics --

func TestMetrics_EnqueueAndTransitionCounted(t *testing.T) {
	env := newTestService()
	e := env.enqueue(t, PriorityNormal)
	_, _, _ = env.svc.Enqueue(context.Background(), EnqueueRequest{PatientID: e.PatientID})
	_, _ = env.svc.Transition(context.Background(), e.ID, StatusCompleted)

	var rm metricdata.ResourceMetrics
	if err := env.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	if totals["opd.queue.enqueued"] != 2 {
		t.Errorf("expected 2 enqueue calls counted, got %d", totals["opd.queue.enqueued"])
	}
	if totals["opd.queue.transitions"] != 1 {
		t.Errorf("expected 1 transition counted, got %d", totals["opd.queue.transitions"])
	}
}
