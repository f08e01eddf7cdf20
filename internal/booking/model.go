package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dentalops/clinic-scheduler/internal/schedule"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// Live reports whether the appointment still occupies its slot on the
// resource timeline. Only live appointments participate in overlap checks.
func (s Status) Live() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal statuses admit no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRescheduled
}

// Appointment is the durable booking record. Duration is derived from the
// appointment type at creation and frozen; the patient name is denormalized
// for filtered retrieval. RescheduledFrom points at the record this one
// replaced.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PatientName     string
	ResourceID      string
	Start           time.Time
	Duration        time.Duration
	Type            schedule.AppointmentType
	Status          Status
	Notes           string
	CancelReason    string
	RescheduledFrom *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration)
}

func (a Appointment) Interval() schedule.Interval {
	return schedule.Interval{Start: a.Start, End: a.End()}
}

// Filter selects appointments by conjunction of the set predicates.
type Filter struct {
	Statuses   []Status
	PatientID  *uuid.UUID
	ResourceID string
	From       *time.Time // inclusive lower bound on Start
	To         *time.Time // exclusive upper bound on Start
	Search     string     // substring over patient name and notes
}

// Match reports whether the appointment satisfies every set predicate. Used
// directly by the file-backed store; the Postgres store compiles the same
// predicates to SQL.
func (f Filter) Match(a Appointment) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PatientID != nil && *f.PatientID != a.PatientID {
		return false
	}
	if f.ResourceID != "" && a.ResourceID != f.ResourceID {
		return false
	}
	if f.From != nil && a.Start.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.Start.Before(*f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.PatientName), needle) &&
			!strings.Contains(strings.ToLower(a.Notes), needle) {
			return false
		}
	}
	return true
}

// LiveOn builds the filter for a resource's live bookings on the given day.
func LiveOn(resourceID string, day time.Time) Filter {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)
	return Filter{
		Statuses:   []Status{StatusScheduled, StatusConfirmed},
		ResourceID: resourceID,
		From:       &from,
		To:         &to,
	}
}
