package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/availability"
	"github.com/dentalops/clinic-scheduler/internal/lock"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
)

// Service is the booking transaction manager: it owns every appointment
// state transition and enforces the non-overlap invariant per resource.
// Each mutating operation runs its read-validate-write sequence inside the
// resource's critical section.
type Service struct {
	repo     Repository
	patients patient.Repository
	locker   lock.Locker
	rules    schedule.Rules
	policy   availability.Policy
	log      *zap.Logger
}

func NewService(repo Repository, patients patient.Repository, locker lock.Locker, rules schedule.Rules, policy availability.Policy, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		patients: patients,
		locker:   locker,
		rules:    rules,
		policy:   policy,
		log:      log,
	}
}

func (s *Service) Rules() schedule.Rules { return s.rules }

// Book creates a scheduled appointment for the patient on the resource. The
// interval must sit inside the day's open window and must not overlap any
// live booking on the resource; the overlap check and the insert run under
// the resource lock.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, resourceID string, start time.Time, t schedule.AppointmentType, notes string) (*Appointment, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id required", ErrInvalidRequest)
	}

	duration, err := s.rules.Duration(t)
	if err != nil {
		return nil, err
	}

	iv := schedule.Interval{Start: start, End: start.Add(duration)}
	if !availability.Fits(s.rules, iv) {
		return nil, ErrOutOfHours
	}

	p, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.locker.WithResourceLock(ctx, resourceID, func(ctx context.Context) error {
		if err := s.ensureFree(ctx, resourceID, iv, uuid.Nil); err != nil {
			return err
		}

		now := time.Now().UTC()
		appt := &Appointment{
			ID:          uuid.New(),
			PatientID:   patientID,
			PatientName: p.Name,
			ResourceID:  resourceID,
			Start:       start,
			Duration:    duration,
			Type:        t,
			Status:      StatusScheduled,
			Notes:       notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.PutAppointments(ctx, appt); err != nil {
			return fmt.Errorf("persist appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, mapLockErr(err)
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("resource_id", resourceID),
		zap.Time("start", start),
		zap.String("type", string(t)))

	return created, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, "", StatusScheduled)
}

// Cancel frees the slot held by a scheduled or confirmed appointment,
// recording the reason. The record is retained as history.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, reason, StatusScheduled, StatusConfirmed)
}

// Complete marks a confirmed appointment as completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, "", StatusConfirmed)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, reason string, allowedFrom ...Status) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.locker.WithResourceLock(ctx, appt.ResourceID, func(ctx context.Context) error {
		// Re-read inside the critical section; the status may have moved.
		current, err := s.repo.GetAppointment(ctx, id)
		if err != nil {
			return err
		}

		if !statusIn(current.Status, allowedFrom) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
		}

		current.Status = to
		if reason != "" {
			current.CancelReason = reason
		}
		current.UpdatedAt = time.Now().UTC()

		if err := s.repo.PutAppointments(ctx, current); err != nil {
			return fmt.Errorf("persist transition: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, mapLockErr(err)
	}

	s.log.Info("appointment transitioned",
		zap.String("appointment_id", id.String()),
		zap.String("status", string(to)))

	return updated, nil
}

// Reschedule atomically retires the source appointment and creates a fresh
// scheduled one at the new time, keeping the frozen duration and type. The
// new record references the old one. If the target slot check fails nothing
// changes and the caller sees the same error Book would have raised.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newResourceID string) (*Appointment, *Appointment, error) {
	source, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	target := newResourceID
	if target == "" {
		target = source.ResourceID
	}

	iv := schedule.Interval{Start: newStart, End: newStart.Add(source.Duration)}
	if !availability.Fits(s.rules, iv) {
		return nil, nil, ErrOutOfHours
	}

	var oldAppt, newAppt *Appointment
	err = s.withResources(ctx, []string{source.ResourceID, target}, func(ctx context.Context) error {
		current, err := s.repo.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.Live() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusRescheduled)
		}

		if err := s.ensureFree(ctx, target, iv, current.ID); err != nil {
			return err
		}

		now := time.Now().UTC()
		current.Status = StatusRescheduled
		current.UpdatedAt = now

		sourceID := current.ID
		replacement := &Appointment{
			ID:              uuid.New(),
			PatientID:       current.PatientID,
			PatientName:     current.PatientName,
			ResourceID:      target,
			Start:           newStart,
			Duration:        current.Duration,
			Type:            current.Type,
			Status:          StatusScheduled,
			Notes:           current.Notes,
			RescheduledFrom: &sourceID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := s.repo.PutAppointments(ctx, current, replacement); err != nil {
			return fmt.Errorf("persist reschedule: %w", err)
		}
		oldAppt, newAppt = current, replacement
		return nil
	})
	if err != nil {
		return nil, nil, mapLockErr(err)
	}

	s.log.Info("appointment rescheduled",
		zap.String("source_id", oldAppt.ID.String()),
		zap.String("new_id", newAppt.ID.String()),
		zap.Time("new_start", newStart))

	return oldAppt, newAppt, nil
}

// Availability returns every bookable start time for the resource, day, and
// appointment type. Pure read, no lock taken.
func (s *Service) Availability(ctx context.Context, resourceID string, day time.Time, t schedule.AppointmentType) ([]time.Time, error) {
	booked, err := s.bookedIntervals(ctx, resourceID, day)
	if err != nil {
		return nil, err
	}
	return availability.Slots(s.rules, booked, day, t, s.policy)
}

// OfferSlots truncates the day's availability to at most max alternatives,
// preferring starts closest to the patient's preferred time when given.
func (s *Service) OfferSlots(ctx context.Context, resourceID string, day time.Time, t schedule.AppointmentType, preferred *time.Time, max int) ([]time.Time, error) {
	slots, err := s.Availability(ctx, resourceID, day, t)
	if err != nil {
		return nil, err
	}
	return availability.Offer(slots, preferred, max), nil
}

// CompleteElapsed moves confirmed appointments whose interval has fully
// passed to completed. Run periodically by the completion worker.
func (s *Service) CompleteElapsed(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.repo.QueryAppointments(ctx, Filter{
		Statuses: []Status{StatusConfirmed},
		To:       &now,
	})
	if err != nil {
		return 0, fmt.Errorf("find elapsed appointments: %w", err)
	}

	completed := 0
	for _, appt := range candidates {
		if appt.End().After(now) {
			continue
		}
		if _, err := s.Complete(ctx, appt.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Warn("failed to complete elapsed appointment",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		completed++
	}
	return completed, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) Query(ctx context.Context, f Filter) ([]Appointment, error) {
	return s.repo.QueryAppointments(ctx, f)
}

// ensureFree fails with ErrSlotUnavailable when the interval overlaps any
// live booking on the resource, excluding the given appointment ID. Must be
// called inside the resource's critical section.
func (s *Service) ensureFree(ctx context.Context, resourceID string, iv schedule.Interval, exclude uuid.UUID) error {
	live, err := s.repo.QueryAppointments(ctx, LiveOn(resourceID, iv.Start))
	if err != nil {
		return fmt.Errorf("load live bookings: %w", err)
	}
	for _, other := range live {
		if other.ID == exclude {
			continue
		}
		if iv.Overlaps(other.Interval()) {
			return ErrSlotUnavailable
		}
	}
	return nil
}

func (s *Service) bookedIntervals(ctx context.Context, resourceID string, day time.Time) ([]schedule.Interval, error) {
	live, err := s.repo.QueryAppointments(ctx, LiveOn(resourceID, day))
	if err != nil {
		return nil, fmt.Errorf("load live bookings: %w", err)
	}
	ivs := make([]schedule.Interval, 0, len(live))
	for _, a := range live {
		ivs = append(ivs, a.Interval())
	}
	return ivs, nil
}

// withResources enters the critical sections of all given resources in
// sorted order, so two overlapping multi-resource operations can never
// deadlock against each other.
func (s *Service) withResources(ctx context.Context, ids []string, fn func(ctx context.Context) error) error {
	sort.Strings(ids)
	unique := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			unique = append(unique, id)
		}
	}

	var run func(ctx context.Context, rest []string) error
	run = func(ctx context.Context, rest []string) error {
		if len(rest) == 0 {
			return fn(ctx)
		}
		return s.locker.WithResourceLock(ctx, rest[0], func(ctx context.Context) error {
			return run(ctx, rest[1:])
		})
	}
	return run(ctx, unique)
}

func mapLockErr(err error) error {
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrBusy
	}
	return err
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}
