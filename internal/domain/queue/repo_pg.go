package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/calendar"
	"github.com/ehr/opd/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, patient_id, queue_number, registration_date, registration_time,
	status, priority, called_at, completed_at, notes, created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e         Entry
		status    string
		priority  int16
		notes     *string
		createdBy *string
	)
	err := row.Scan(&e.ID, &e.PatientID, &e.QueueNumber, &e.RegistrationDate, &e.RegistrationTime,
		&status, &priority, &e.CalledAt, &e.CompletedAt, &notes, &createdBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.Priority = Priority(priority)
	if notes != nil {
		e.Notes = *notes
	}
	if createdBy != nil {
		e.CreatedBy = *createdBy
	}
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repoPG) InsertOrFetch(ctx context.Context, e *Entry) (*Entry, bool, error) {
	tx, err := db.Begin(ctx, r.pool)
	if err != nil {
		return nil, false, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Allocating first takes the date's counter lock, so the existence check
	// below cannot race another enqueue for the same date.
	number, err := NextNumber(ctx, tx, e.RegistrationDate)
	if err != nil {
		return nil, false, err
	}

	existing, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE patient_id = $1 AND registration_date = $2 AND status <> 'cancelled'`,
		e.PatientID, e.RegistrationDate))
	switch {
	case err == nil:
		// rollback returns the number to the counter
		return existing, false, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, false, fmt.Errorf("look up existing entry: %w", err)
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	created, err := scanEntry(tx.QueryRow(ctx, `
		INSERT INTO queue_entry (id, patient_id, queue_number, registration_date, registration_time,
			status, priority, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+entryCols,
		e.ID, e.PatientID, number, e.RegistrationDate, e.RegistrationTime,
		string(StatusWaiting), int16(e.Priority), nullable(e.Notes), nullable(e.CreatedBy)))
	if err != nil {
		return nil, false, fmt.Errorf("insert queue entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit enqueue: %w", err)
	}
	return created, true, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entry WHERE id = $1`, id))
}

func (r *repoPG) ListByDate(ctx context.Context, date calendar.Date) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+` FROM queue_entry
		WHERE registration_date = $1 ORDER BY queue_number`, date)
}

func (r *repoPG) ListWaiting(ctx context.Context, date calendar.Date) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+entryCols+` FROM queue_entry
		WHERE registration_date = $1 AND status = 'waiting'
		ORDER BY priority DESC, queue_number ASC`, date)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, calledAt, completedAt *time.Time) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entry SET status = $3,
			called_at = COALESCE($4, called_at),
			completed_at = COALESCE($5, completed_at),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+entryCols,
		id, string(from), string(to), calledAt, completedAt))
	if !errors.Is(err, apperror.ErrNotFound) {
		return e, err
	}

	// Either the row is gone or another request moved it first.
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &apperror.StateError{From: string(current.Status), To: string(to)}
}
