// Package apperror holds the error kinds shared by the outpatient services and
// their mapping onto HTTP responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input. Nothing has been written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateError reports a queue status change the state machine does not allow.
type StateError struct {
	From string
	To   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// ConcurrencyError reports that the store could not resolve a contended
// operation, such as allocating the next queue number.
type ConcurrencyError struct {
	Op  string
	Err error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// SideEffectWarning records a best-effort step that failed without failing
// the operation that triggered it.
type SideEffectWarning struct {
	Step string
	Err  error
	At   time.Time
}

func (w SideEffectWarning) String() string {
	return fmt.Sprintf("%s: %v", w.Step, w.Err)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsState(err error) bool {
	var s *StateError
	return errors.As(err, &s)
}

func IsConcurrency(err error) bool {
	var c *ConcurrencyError
	return errors.As(err, &c)
}

// ToHTTP converts a service error into an echo HTTP error. Unknown errors
// become a bare 500 so store details never reach the client.
func ToHTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	var ce *ConcurrencyError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &he):
		return he
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsState(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &ce):
		return echo.NewHTTPError(http.StatusServiceUnavailable, ce.Op+" failed, try again").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
