package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotUnavailable: the requested interval overlaps a live booking on
	// the resource.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrOutOfHours: the requested interval is not fully inside the day's
	// open-minus-lunch window.
	ErrOutOfHours = errors.New("requested time is outside clinic hours")

	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidRequest: structurally bad input local to the call.
	ErrInvalidRequest = errors.New("invalid booking request")

	// ErrBusy: the resource section could not be entered within the bounded
	// wait. Safe for the caller to retry with backoff.
	ErrBusy = errors.New("resource is busy, retry shortly")
)

// Repository contains all store interactions the transaction manager needs.
// PutAppointments persists all given records as one atomic write; the
// reschedule path relies on that for its all-or-nothing pair update.
type Repository interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	PutAppointments(ctx context.Context, appts ...*Appointment) error
	QueryAppointments(ctx context.Context, f Filter) ([]Appointment, error)
}
