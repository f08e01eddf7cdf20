// Package core exposes the scheduling boundary: identity resolution,
// availability, booking transitions, and filtered retrieval, with optional
// per-conversation context threading. The front-end (or a benchmark runner)
// drives this surface directly; everything it returns is the source of truth
// for what a user ultimately sees.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/session"
)

// ScheduleUpdate is the structured record the front-end surfaces to a user
// after a booking transition.
type ScheduleUpdate struct {
	PatientID     string
	PatientName   string
	Status        booking.Status
	OriginalStart *time.Time
	NewStart      *time.Time
	Notes         string
	Reason        string
}

type Scheduler struct {
	resolver   *patient.Resolver
	bookings   *booking.Service
	sessions   session.Tracker
	offerLimit int
	log        *zap.Logger
}

func NewScheduler(resolver *patient.Resolver, bookings *booking.Service, sessions session.Tracker, offerLimit int, log *zap.Logger) *Scheduler {
	if offerLimit <= 0 {
		offerLimit = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		resolver:   resolver,
		bookings:   bookings,
		sessions:   sessions,
		offerLimit: offerLimit,
		log:        log,
	}
}

// ResolvePatient maps partial attributes to a patient. With a session ID the
// conversation context is advanced: a unique match is remembered, an
// ambiguous one records which field to ask for next, and no match parks the
// session on registration.
func (s *Scheduler) ResolvePatient(ctx context.Context, sessionID string, attrs patient.Attributes) (patient.ResolveResult, error) {
	res, err := s.resolver.Resolve(ctx, attrs)
	if err != nil {
		return patient.ResolveResult{}, err
	}

	if sessionID != "" {
		sc := s.loadOrStartSession(ctx, sessionID)
		switch res.Outcome {
		case patient.OutcomeUnique:
			sc.PatientID = &res.Patient.ID
			sc.Pending = session.PendingNone
			sc.ClarifyField = ""
		case patient.OutcomeAmbiguous:
			sc.Pending = session.PendingClarifyField
			sc.ClarifyField = res.Clarify
		case patient.OutcomeNoMatch:
			sc.Pending = session.PendingRegistration
		}
		s.saveSession(ctx, sc)
	}

	return res, nil
}

// RegisterPatient validates and persists a new patient, binding it to the
// session when one is given.
func (s *Scheduler) RegisterPatient(ctx context.Context, sessionID string, attrs patient.Attributes) (*patient.Patient, error) {
	p, err := s.resolver.Register(ctx, attrs)
	if err != nil {
		return nil, err
	}

	if sessionID != "" {
		sc := s.loadOrStartSession(ctx, sessionID)
		sc.PatientID = &p.ID
		sc.Pending = session.PendingNone
		s.saveSession(ctx, sc)
	}

	return p, nil
}

// UpdatePatient applies an explicit field change to an existing patient.
func (s *Scheduler) UpdatePatient(ctx context.Context, id uuid.UUID, attrs patient.Attributes) (*patient.Patient, error) {
	return s.resolver.Update(ctx, id, attrs)
}

// ListAvailability returns every bookable start on the resource's day.
func (s *Scheduler) ListAvailability(ctx context.Context, resourceID string, day time.Time, t schedule.AppointmentType) ([]time.Time, error) {
	return s.bookings.Availability(ctx, resourceID, day, t)
}

// OfferAlternatives returns at most the configured number of slots, closest
// to the preferred time first when one is given, and records the offer in
// the conversation context so a later AcceptOffer can act on the choice.
func (s *Scheduler) OfferAlternatives(ctx context.Context, sessionID, resourceID string, day time.Time, t schedule.AppointmentType, preferred *time.Time) ([]time.Time, error) {
	slots, err := s.bookings.OfferSlots(ctx, resourceID, day, t, preferred, s.offerLimit)
	if err != nil {
		return nil, err
	}

	if sessionID != "" {
		sc := s.loadOrStartSession(ctx, sessionID)
		sc.Pending = session.PendingSlotChoice
		sc.ResourceID = resourceID
		sc.AppointmentType = t
		sc.OfferedSlots = slots
		s.saveSession(ctx, sc)
	}

	return slots, nil
}

// AcceptOffer books the nth slot previously offered on this session. The
// session must hold a resolved patient and a pending offer.
func (s *Scheduler) AcceptOffer(ctx context.Context, sessionID string, choice int, notes string) (*booking.Appointment, ScheduleUpdate, error) {
	sc, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, ScheduleUpdate{}, err
	}
	if sc.Pending != session.PendingSlotChoice || len(sc.OfferedSlots) == 0 {
		return nil, ScheduleUpdate{}, fmt.Errorf("%w: no pending slot offer on session", booking.ErrInvalidRequest)
	}
	if sc.PatientID == nil {
		return nil, ScheduleUpdate{}, fmt.Errorf("%w: session has no resolved patient", booking.ErrInvalidRequest)
	}
	if choice < 0 || choice >= len(sc.OfferedSlots) {
		return nil, ScheduleUpdate{}, fmt.Errorf("%w: slot choice out of range", booking.ErrInvalidRequest)
	}

	appt, update, err := s.BookAppointment(ctx, *sc.PatientID, sc.ResourceID, sc.OfferedSlots[choice], sc.AppointmentType, notes)
	if err != nil {
		return nil, ScheduleUpdate{}, err
	}

	sc.Pending = session.PendingNone
	sc.OfferedSlots = nil
	s.saveSession(ctx, sc)

	return appt, update, nil
}

func (s *Scheduler) BookAppointment(ctx context.Context, patientID uuid.UUID, resourceID string, start time.Time, t schedule.AppointmentType, notes string) (*booking.Appointment, ScheduleUpdate, error) {
	appt, err := s.bookings.Book(ctx, patientID, resourceID, start, t, notes)
	if err != nil {
		return nil, ScheduleUpdate{}, err
	}
	newStart := appt.Start
	return appt, ScheduleUpdate{
		PatientID:   appt.PatientID.String(),
		PatientName: appt.PatientName,
		Status:      appt.Status,
		NewStart:    &newStart,
		Notes:       appt.Notes,
	}, nil
}

func (s *Scheduler) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, ScheduleUpdate, error) {
	appt, err := s.bookings.Confirm(ctx, id)
	if err != nil {
		return nil, ScheduleUpdate{}, err
	}
	return appt, transitionUpdate(appt), nil
}

func (s *Scheduler) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*booking.Appointment, ScheduleUpdate, error) {
	appt, err := s.bookings.Cancel(ctx, id, reason)
	if err != nil {
		return nil, ScheduleUpdate{}, err
	}
	update := transitionUpdate(appt)
	update.Reason = appt.CancelReason
	return appt, update, nil
}

func (s *Scheduler) CompleteAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, ScheduleUpdate, error) {
	appt, err := s.bookings.Complete(ctx, id)
	if err != nil {
		return nil, ScheduleUpdate{}, err
	}
	return appt, transitionUpdate(appt), nil
}

func (s *Scheduler) RescheduleAppointment(ctx context.Context, id uuid.UUID, newStart time.Time, newResourceID string) (*booking.Appointment, *booking.Appointment, ScheduleUpdate, error) {
	oldAppt, newAppt, err := s.bookings.Reschedule(ctx, id, newStart, newResourceID)
	if err != nil {
		return nil, nil, ScheduleUpdate{}, err
	}
	origStart := oldAppt.Start
	replStart := newAppt.Start
	return oldAppt, newAppt, ScheduleUpdate{
		PatientID:     newAppt.PatientID.String(),
		PatientName:   newAppt.PatientName,
		Status:        newAppt.Status,
		OriginalStart: &origStart,
		NewStart:      &replStart,
		Notes:         newAppt.Notes,
	}, nil
}

func (s *Scheduler) GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error) {
	return s.bookings.Get(ctx, id)
}

func (s *Scheduler) QueryAppointments(ctx context.Context, f booking.Filter) ([]booking.Appointment, error) {
	return s.bookings.Query(ctx, f)
}

func (s *Scheduler) QueryPatients(ctx context.Context, f patient.Filter) ([]patient.Patient, error) {
	return s.resolver.Query(ctx, f)
}

func transitionUpdate(appt *booking.Appointment) ScheduleUpdate {
	start := appt.Start
	return ScheduleUpdate{
		PatientID:     appt.PatientID.String(),
		PatientName:   appt.PatientName,
		Status:        appt.Status,
		OriginalStart: &start,
		Notes:         appt.Notes,
	}
}

// Session bookkeeping is best-effort: the tracker is a cache and a failed
// write only costs the caller a re-resolution on the next turn.

func (s *Scheduler) loadOrStartSession(ctx context.Context, sessionID string) *session.Context {
	sc, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return &session.Context{SessionID: sessionID}
	}
	return sc
}

func (s *Scheduler) saveSession(ctx context.Context, sc *session.Context) {
	if err := s.sessions.Put(ctx, sc); err != nil {
		s.log.Warn("failed to save conversation context",
			zap.String("session_id", sc.SessionID),
			zap.Error(err))
	}
}
