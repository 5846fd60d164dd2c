package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/calendar"
	"github.com/ehr/opd/internal/platform/db/dbtest"
)

func TestRepoPG_ConcurrentEnqueueIsGapless(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewRepoPG(pool)
	ctx := context.Background()
	day := calendar.New(2026, 10, 19)

	const n = 25
	patients := make([]uuid.UUID, n)
	for i := range patients {
		patients[i] = dbtest.InsertPatient(t, pool, "Patient")
	}

	var wg sync.WaitGroup
	numbers := make(chan int, 2*n)
	errs := make(chan error, 2*n)
	// every patient enqueues twice at once; the duplicate must not consume a number
	for _, pid := range append(patients, patients...) {
		wg.Add(1)
		go func(pid uuid.UUID) {
			defer wg.Done()
			e, created, err := repo.InsertOrFetch(ctx, &Entry{
				PatientID: pid, RegistrationDate: day, RegistrationTime: time.Now(),
			})
			if err != nil {
				errs <- err
				return
			}
			if created {
				numbers <- e.QueueNumber
			}
		}(pid)
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("enqueue: %v", err)
	}
	seen := map[int]bool{}
	for num := range numbers {
		if seen[num] {
			t.Fatalf("duplicate number %d", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d created entries, got %d", n, len(seen))
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("gap at %d", i)
		}
	}
}

func TestRepoPG_OrderingAndTransitions(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewRepoPG(pool)
	ctx := context.Background()
	day := calendar.New(2026, 10, 19)

	enqueue := func(p Priority) *Entry {
		e, _, err := repo.InsertOrFetch(ctx, &Entry{
			PatientID: dbtest.InsertPatient(t, pool, "P"), RegistrationDate: day,
			RegistrationTime: time.Now(), Priority: p, Notes: "walk in",
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		return e
	}
	normal := enqueue(PriorityNormal)
	urgent := enqueue(PriorityUrgent)
	high := enqueue(PriorityHigh)

	waiting, err := repo.ListWaiting(ctx, day)
	if err != nil {
		t.Fatalf("ListWaiting: %v", err)
	}
	if len(waiting) != 3 || waiting[0].ID != urgent.ID || waiting[1].ID != high.ID || waiting[2].ID != normal.ID {
		t.Fatalf("unexpected order %+v", waiting)
	}
	if waiting[2].Notes != "walk in" || waiting[2].RegistrationDate != day {
		t.Errorf("columns not round-tripped: %+v", waiting[2])
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	done, err := repo.UpdateStatus(ctx, normal.ID, StatusWaiting, StatusCompleted, nil, &now)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(now) {
		t.Errorf("expected completed_at %v, got %v", now, done.CompletedAt)
	}

	// a stale from-status is rejected without writing
	if _, err := repo.UpdateStatus(ctx, normal.ID, StatusWaiting, StatusCancelled, nil, nil); !apperror.IsState(err) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, uuid.New(), StatusWaiting, StatusCancelled, nil, nil); err != apperror.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := repo.ListByDate(ctx, day)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListByDate: %d entries, err %v", len(all), err)
	}
	for i, e := range all {
		if e.QueueNumber != i+1 {
			t.Errorf("expected queue number order, got %d at %d", e.QueueNumber, i)
		}
	}
}
