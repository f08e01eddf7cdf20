package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/availability"
	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/lock"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/store/jsonstore"
)

// 2025-01-20 is a Monday, open 08:00-17:00 with lunch 12:00-13:00.
var monday = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return time.Date(2025, 1, 20, hour, min, 0, 0, time.UTC)
}

func newTestService(t *testing.T, locker lock.Locker) (*booking.Service, *jsonstore.Store) {
	t.Helper()
	st, err := jsonstore.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	if locker == nil {
		locker = lock.NewMemoryLocker(2 * time.Second)
	}
	svc := booking.NewService(st, st, locker, schedule.Default(), availability.Policy{}, zap.NewNop())
	return svc, st
}

func newTestPatient(t *testing.T, st *jsonstore.Store, name string) *patient.Patient {
	t.Helper()
	now := time.Now().UTC()
	p := &patient.Patient{
		ID:          uuid.New(),
		Name:        name,
		Phone:       "555-010-2030",
		DateOfBirth: time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.PutPatient(context.Background(), p))
	return p
}

func TestBookCreatesScheduledAppointment(t *testing.T) {
	svc, st := newTestService(t, nil)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	appt, err := svc.Book(ctx, p.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "first visit")
	require.NoError(t, err)

	assert.Equal(t, booking.StatusScheduled, appt.Status)
	assert.Equal(t, p.ID, appt.PatientID)
	assert.Equal(t, "Maria Lopez", appt.PatientName)
	assert.Equal(t, time.Hour, appt.Duration)
	assert.True(t, appt.End().Equal(at(10, 0)))
}

func TestBookConflictingSlotFails(t *testing.T) {
	svc, st := newTestService(t, nil)
	p1 := newTestPatient(t, st, "Maria Lopez")
	p2 := newTestPatient(t, st, "James Chen")
	ctx := context.Background()

	_, err := svc.Book(ctx, p1.ID, "dr-smith", at(9, 30), schedule.TypeFilling, "")
	require.NoError(t, err)

	// Same start, same resource. Must be rejected, not double booked.
	_, err = svc.Book(ctx, p2.ID, "dr-smith", at(9, 30), schedule.TypeFilling, "")
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)

	// Partial overlap is just as unavailable.
	_, err = svc.Book(ctx, p2.ID, "dr-smith", at(10, 0), schedule.TypeFilling, "")
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)

	// A different resource is free at the same time.
	_, err = svc.Book(ctx, p2.ID, "dr-jones", at(9, 30), schedule.TypeFilling, "")
	assert.NoError(t, err)
}

func TestBookOutOfHours(t *testing.T) {
	svc, st := newTestService(t, nil)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	// 07:00 is before opening.
	_, err := svc.Book(ctx, p.ID, "dr-smith", at(7, 0), schedule.TypeRegularCheckup, "")
	assert.ErrorIs(t, err, booking.ErrOutOfHours)

	// 16:30 + 60m spills past closing.
	_, err = svc.Book(ctx, p.ID, "dr-smith", at(16, 30), schedule.TypeRegularCheckup, "")
	assert.ErrorIs(t, err, booking.ErrOutOfHours)

	// 11:30 + 60m crosses into lunch.
	_, err = svc.Book(ctx, p.ID, "dr-smith", at(11, 30), schedule.TypeRegularCheckup, "")
	assert.ErrorIs(t, err, booking.ErrOutOfHours)

	// Sunday is closed.
	sunday := time.Date(2025, 1, 19, 9, 0, 0, 0, time.UTC)
	_, err = svc.Book(ctx, p.ID, "dr-smith", sunday, schedule.TypeRegularCheckup, "")
	assert.ErrorIs(t, err, booking.ErrOutOfHours)
}

func TestBookUnknownTypeAndMissingPatient(t *testing.T) {
	svc, st := newTestService(t, nil)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	_, err := svc.Book(ctx, p.ID, "dr-smith", at(9, 0), "massage", "")
	assert.ErrorIs(t, err, schedule.ErrUnknownType)

	_, err = svc.Book(ctx, uuid.New(), "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
	assert.ErrorIs(t, err, patient.ErrPatientNotFound)

	_, err = svc.Book(ctx, p.ID, "", at(9, 0), schedule.TypeRegularCheckup, "")
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)
}

func TestCancelFreesSlotForRebooking(t *testing.T) {
	svc, st := newTestService(t, nil)
	p1 := newTestPatient(t, st, "Maria Lopez")
	p2 := newTestPatient(t, st, "James Chen")
	ctx := context.Background()

	appt, err := svc.Book(ctx, p1.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, appt.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assert.Equal(t, "patient request", cancelled.CancelReason)

	// The freed slot is immediately bookable by someone else.
	rebooked, err := svc.Book(ctx, p2.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)
	assert.Equal(t, p2.ID, rebooked.PatientID)

	// The cancelled record survives as history.
	kept, err := svc.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, kept.Status)
}

func TestTransitionRules(t *testing.T) {
	svc, st := newTestService(t, nil)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	appt, err := svc.Book(ctx, p.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)

	// Completing before confirmation is not allowed.
	_, err = svc.Complete(ctx, appt.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	confirmed, err := svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status)

	// Confirming twice is a no-op transition and rejected.
	_, err = svc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	completed, err := svc.Complete(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, completed.Status)

	// Terminal states accept nothing further.
	_, err = svc.Cancel(ctx, appt.ID, "too late")
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	_, err = svc.Confirm(ctx, uuid.New())
	assert.ErrorIs(t, err, booking.ErrAppointmentNotFound)
}

func TestRescheduleMovesAppointment(t *testing.T) {
	svc, st := newTestService(t, nil)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	appt, err := svc.Book(ctx, p.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "bring x-rays")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)

	oldAppt, newAppt, err := svc.Reschedule(ctx, appt.ID, at(14, 0), "")
	require.NoError(t, err)

	assert.Equal(t, booking.StatusRescheduled, oldAppt.Status)
	assert.Equal(t, booking.StatusScheduled, newAppt.Status)
	assert.True(t, newAppt.Start.Equal(at(14, 0)))
	assert.Equal(t, oldAppt.Duration, newAppt.Duration)
	assert.Equal(t, oldAppt.Type, newAppt.Type)
	assert.Equal(t, "bring x-rays", newAppt.Notes)
	require.NotNil(t, newAppt.RescheduledFrom)
	assert.Equal(t, oldAppt.ID, *newAppt.RescheduledFrom)

	// The old slot is free again.
	p2 := newTestPatient(t, st, "James Chen")
	_, err = svc.Book(ctx, p2.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
	assert.NoError(t, err)
}

func TestRescheduleToOccupiedSlotLeavesSourceUntouched(t *testing.T) {
	svc, st := newTestService(t, nil)
	p1 := newTestPatient(t, st, "Maria Lopez")
	p2 := newTestPatient(t, st, "James Chen")
	ctx := context.Background()

	appt, err := svc.Book(ctx, p1.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)

	blocker, err := svc.Book(ctx, p2.ID, "dr-smith", at(14, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)

	_, _, err = svc.Reschedule(ctx, appt.ID, at(14, 0), "")
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)

	// All-or-nothing: the source keeps its slot and status.
	kept, err := svc.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, kept.Status)
	assert.True(t, kept.Start.Equal(at(9, 0)))

	kept, err = svc.Get(ctx, blocker.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusScheduled, kept.Status)
}

func TestRescheduleAcrossResources(t *testing.T) {
	svc, st := newTestService(t, nil)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	appt, err := svc.Book(ctx, p.ID, "dr-smith", at(9, 0), schedule.TypeCrown, "")
	require.NoError(t, err)

	oldAppt, newAppt, err := svc.Reschedule(ctx, appt.ID, at(13, 0), "dr-jones")
	require.NoError(t, err)
	assert.Equal(t, "dr-smith", oldAppt.ResourceID)
	assert.Equal(t, "dr-jones", newAppt.ResourceID)

	// A rescheduled record cannot be moved again.
	_, _, err = svc.Reschedule(ctx, oldAppt.ID, at(15, 0), "")
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestAvailabilityExcludesLiveBookings(t *testing.T) {
	svc, st := newTestService(t, nil)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	_, err := svc.Book(ctx, p.ID, "dr-smith", at(10, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)

	slots, err := svc.Availability(ctx, "dr-smith", monday, schedule.TypeRegularCheckup)
	require.NoError(t, err)

	for _, s := range slots {
		assert.False(t, s.Equal(at(10, 0)), "booked slot offered as available")
	}
	assert.Contains(t, slotHours(slots), 9)
	assert.Contains(t, slotHours(slots), 11)

	// Another resource's day is unaffected.
	slots, err = svc.Availability(ctx, "dr-jones", monday, schedule.TypeRegularCheckup)
	require.NoError(t, err)
	assert.Contains(t, slotHours(slots), 10)
}

func slotHours(slots []time.Time) []int {
	hours := make([]int, 0, len(slots))
	for _, s := range slots {
		hours = append(hours, s.Hour())
	}
	return hours
}

func TestConcurrentBookingExactlyOneWins(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	patients := make([]*patient.Patient, 16)
	for i := range patients {
		patients[i] = newTestPatient(t, st, "Patient")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, p := range patients {
		wg.Add(1)
		go func(p *patient.Patient) {
			defer wg.Done()
			_, err := svc.Book(ctx, p.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, booking.ErrSlotUnavailable):
				conflicts++
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(patients)-1, conflicts)

	live, err := svc.Query(ctx, booking.LiveOn("dr-smith", monday))
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestBookWhileResourceHeldReturnsBusy(t *testing.T) {
	locker := lock.NewMemoryLocker(50 * time.Millisecond)
	svc, st := newTestService(t, locker)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithResourceLock(ctx, "dr-smith", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := svc.Book(ctx, p.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
	assert.ErrorIs(t, err, booking.ErrBusy)
}

func TestCompleteElapsed(t *testing.T) {
	svc, st := newTestService(t, nil)
	p := newTestPatient(t, st, "Maria Lopez")
	ctx := context.Background()

	past, err := svc.Book(ctx, p.ID, "dr-smith", at(9, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, past.ID)
	require.NoError(t, err)

	// Still scheduled, never confirmed; the sweep must leave it alone.
	unconfirmed, err := svc.Book(ctx, p.ID, "dr-smith", at(10, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)

	// Confirmed but not yet over at the sweep time.
	future, err := svc.Book(ctx, p.ID, "dr-smith", at(15, 0), schedule.TypeRegularCheckup, "")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, future.ID)
	require.NoError(t, err)

	n, err := svc.CompleteElapsed(ctx, at(14, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, got.Status)

	got, err = svc.Get(ctx, unconfirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusScheduled, got.Status)

	got, err = svc.Get(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
}
