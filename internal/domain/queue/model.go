package queue

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/opd/internal/platform/calendar"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// transitions lists the statuses reachable from each status. Completed and
// cancelled are terminal.
var transitions = map[Status][]Status{
	StatusWaiting:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether an entry in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority biases queue order independent of arrival. Higher is served first.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
	PriorityUrgent Priority = 2
)

func (p Priority) Valid() bool {
	return p >= PriorityNormal && p <= PriorityUrgent
}

// Entry maps to the queue_entry table: one visit for one patient on one
// clinic date.
type Entry struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	PatientID        uuid.UUID     `db:"patient_id" json:"patient_id"`
	QueueNumber      int           `db:"queue_number" json:"queue_number"`
	RegistrationDate calendar.Date `db:"registration_date" json:"registration_date"`
	RegistrationTime time.Time     `db:"registration_time" json:"registration_time"`
	Status           Status        `db:"status" json:"status"`
	Priority         Priority      `db:"priority" json:"priority"`
	CalledAt         *time.Time    `db:"called_at" json:"called_at,omitempty"`
	CompletedAt      *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	Notes            string        `db:"notes" json:"notes,omitempty"`
	CreatedBy        string        `db:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Stats summarizes one clinic date.
type Stats struct {
	Date            calendar.Date `json:"date"`
	TotalWaiting    int           `json:"total_waiting"`
	TotalInProgress int           `json:"total_in_progress"`
	TotalCompleted  int           `json:"total_completed"`
	TotalCancelled  int           `json:"total_cancelled"`
	// AverageWaitTime is in minutes over completed entries only, rounded to
	// one decimal. Zero when nothing has completed.
	AverageWaitTime float64 `json:"average_wait_time"`
}

// ComputeStats counts entries by status and averages completedAt - createdAt
// over the completed ones.
func ComputeStats(date calendar.Date, entries []*Entry) Stats {
	st := Stats{Date: date}
	var waitSum time.Duration
	var waited int
	for _, e := range entries {
		switch e.Status {
		case StatusWaiting:
			st.TotalWaiting++
		case StatusInProgress:
			st.TotalInProgress++
		case StatusCompleted:
			st.TotalCompleted++
			if e.CompletedAt != nil {
				waitSum += e.CompletedAt.Sub(e.CreatedAt)
				waited++
			}
		case StatusCancelled:
			st.TotalCancelled++
		}
	}
	if waited > 0 {
		avg := waitSum.Minutes() / float64(waited)
		st.AverageWaitTime = math.Round(avg*10) / 10
	}
	return st
}

// Topic is the websocket topic carrying events for a clinic date.
func Topic(date calendar.Date) string {
	return "queue/" + date.String()
}
