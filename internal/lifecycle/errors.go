package lifecycle

import (
	"errors"
	"fmt"
)

// ErrPrecondition is the sentinel for state-machine precondition violations.
// Match with errors.Is; the API layer maps it to HTTP 409. Automation never
// retries these: the predicate that selected the booking is simply stale.
var ErrPrecondition = errors.New("precondition violation")

// ErrBookingNotFound is returned when the booking ID resolves to nothing.
var ErrBookingNotFound = errors.New("booking not found")

// PreconditionError describes why a requested transition was rejected.
type PreconditionError struct {
	Op        string
	BookingID string
	Reason    string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s rejected for booking %s: %s", e.Op, e.BookingID, e.Reason)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

func precondition(op, bookingID, reason string) error {
	return &PreconditionError{Op: op, BookingID: bookingID, Reason: reason}
}
