package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/availability"
	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/core"
	"github.com/dentalops/clinic-scheduler/internal/lock"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/session"
	"github.com/dentalops/clinic-scheduler/internal/store/jsonstore"
)

var monday = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*core.Scheduler, session.Tracker) {
	t.Helper()
	st, err := jsonstore.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	tracker := session.NewMemoryTracker(time.Minute, time.Minute)
	t.Cleanup(tracker.Close)

	resolver := patient.NewResolver(st, zap.NewNop())
	bookings := booking.NewService(st, st, lock.NewMemoryLocker(time.Second), schedule.Default(), availability.Policy{}, zap.NewNop())
	return core.NewScheduler(resolver, bookings, tracker, 3, zap.NewNop()), tracker
}

func registerMaria(t *testing.T, s *core.Scheduler, sessionID string) *patient.Patient {
	t.Helper()
	p, err := s.RegisterPatient(context.Background(), sessionID, patient.Attributes{
		Name:        "Maria Lopez",
		Phone:       "555-010-2030",
		DateOfBirth: "1985-06-01",
	})
	require.NoError(t, err)
	return p
}

func TestResolveAdvancesSession(t *testing.T) {
	s, tracker := newTestScheduler(t)
	ctx := context.Background()

	// Unknown caller: the session parks on registration.
	res, err := s.ResolvePatient(ctx, "conv-1", patient.Attributes{Phone: "555-010-2030"})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeNoMatch, res.Outcome)

	sc, err := tracker.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, session.PendingRegistration, sc.Pending)

	// After registration the session holds the resolved patient.
	p := registerMaria(t, s, "conv-1")

	sc, err = tracker.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, session.PendingNone, sc.Pending)
	require.NotNil(t, sc.PatientID)
	assert.Equal(t, p.ID, *sc.PatientID)

	// A later resolve by the same phone now binds immediately.
	res, err = s.ResolvePatient(ctx, "conv-2", patient.Attributes{Phone: "(555) 010 2030"})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeUnique, res.Outcome)
	assert.Equal(t, p.ID, res.Patient.ID)
}

func TestResolveAmbiguousRecordsClarifyField(t *testing.T) {
	s, tracker := newTestScheduler(t)
	ctx := context.Background()

	for _, name := range []string{"Ana Silva", "Bruno Silva"} {
		_, err := s.RegisterPatient(ctx, "", patient.Attributes{
			Name:        name,
			Phone:       "555-010-2030",
			DateOfBirth: "1982-03-09",
		})
		require.NoError(t, err)
	}

	res, err := s.ResolvePatient(ctx, "conv-1", patient.Attributes{Phone: "555-010-2030"})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeAmbiguous, res.Outcome)

	sc, err := tracker.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, session.PendingClarifyField, sc.Pending)
	assert.Equal(t, "email", sc.ClarifyField)
}

func TestOfferAndAcceptFlow(t *testing.T) {
	s, tracker := newTestScheduler(t)
	ctx := context.Background()
	p := registerMaria(t, s, "conv-1")

	preferred := monday.Add(14 * time.Hour)
	slots, err := s.OfferAlternatives(ctx, "conv-1", "dr-smith", monday, schedule.TypeRegularCheckup, &preferred)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.True(t, slots[0].Equal(preferred), "closest slot to the preference should come first")

	sc, err := tracker.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, session.PendingSlotChoice, sc.Pending)
	assert.Len(t, sc.OfferedSlots, 3)

	appt, update, err := s.AcceptOffer(ctx, "conv-1", 1, "sore tooth")
	require.NoError(t, err)
	assert.Equal(t, p.ID, appt.PatientID)
	assert.True(t, appt.Start.Equal(slots[1]))
	assert.Equal(t, booking.StatusScheduled, appt.Status)
	assert.Equal(t, "Maria Lopez", update.PatientName)
	require.NotNil(t, update.NewStart)
	assert.True(t, update.NewStart.Equal(slots[1]))

	// The offer is consumed; accepting again is rejected.
	sc, err = tracker.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, session.PendingNone, sc.Pending)

	_, _, err = s.AcceptOffer(ctx, "conv-1", 0, "")
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)
}

func TestAcceptOfferGuards(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	// No session at all.
	_, _, err := s.AcceptOffer(ctx, "missing", 0, "")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	// Offer pending but no resolved patient on the session.
	_, err = s.OfferAlternatives(ctx, "conv-1", "dr-smith", monday, schedule.TypeRegularCheckup, nil)
	require.NoError(t, err)
	_, _, err = s.AcceptOffer(ctx, "conv-1", 0, "")
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)

	// Choice outside the offered range.
	registerMaria(t, s, "conv-2")
	_, err = s.OfferAlternatives(ctx, "conv-2", "dr-smith", monday, schedule.TypeRegularCheckup, nil)
	require.NoError(t, err)
	_, _, err = s.AcceptOffer(ctx, "conv-2", 7, "")
	assert.ErrorIs(t, err, booking.ErrInvalidRequest)
}

func TestBookingLifecycleUpdates(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()
	p := registerMaria(t, s, "")

	start := monday.Add(9 * time.Hour)
	appt, update, err := s.BookAppointment(ctx, p.ID, "dr-smith", start, schedule.TypeRegularCheckup, "")
	require.NoError(t, err)
	assert.Equal(t, string(booking.StatusScheduled), string(update.Status))
	require.NotNil(t, update.NewStart)
	assert.Nil(t, update.OriginalStart)

	_, update, err = s.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, update.Status)

	newStart := monday.Add(15 * time.Hour)
	oldAppt, newAppt, update, err := s.RescheduleAppointment(ctx, appt.ID, newStart, "")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusRescheduled, oldAppt.Status)
	require.NotNil(t, update.OriginalStart)
	assert.True(t, update.OriginalStart.Equal(start))
	require.NotNil(t, update.NewStart)
	assert.True(t, update.NewStart.Equal(newStart))

	_, update, err = s.CancelAppointment(ctx, newAppt.ID, "feeling better")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, update.Status)
	assert.Equal(t, "feeling better", update.Reason)

	appts, err := s.QueryAppointments(ctx, booking.Filter{PatientID: &p.ID})
	require.NoError(t, err)
	assert.Len(t, appts, 2)
}
