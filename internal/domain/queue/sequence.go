package queue

import (
	"context"
	"fmt"

	"github.com/ehr/opd/internal/platform/apperror"
	"github.com/ehr/opd/internal/platform/calendar"
)

// nextNumberSQL bumps the per-date counter in one server-side statement. See
// next_queue_number in migrations/002_queue.sql.
const nextNumberSQL = `SELECT next_queue_number($1)`

// NextNumber allocates the next queue number for date. Run on a transaction,
// the counter row stays locked until it ends, and a rollback hands the number
// back so numbers stay contiguous.
//
// A failure is returned as *apperror.ConcurrencyError. Callers must abort the
// enqueue rather than compute a number themselves.
func NextNumber(ctx context.Context, q queryable, date calendar.Date) (int, error) {
	if date.IsZero() {
		return 0, apperror.Invalid("registration_date", "is required")
	}
	var n int
	if err := q.QueryRow(ctx, nextNumberSQL, date).Scan(&n); err != nil {
		return 0, &apperror.ConcurrencyError{Op: "allocate queue number for " + date.String(), Err: err}
	}
	if n <= 0 {
		return 0, &apperror.ConcurrencyError{
			Op:  "allocate queue number for " + date.String(),
			Err: fmt.Errorf("sequence returned %d", n),
		}
	}
	return n, nil
}
