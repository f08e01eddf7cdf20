package patient_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/store/jsonstore"
)

func newTestResolver(t *testing.T) (*patient.Resolver, *jsonstore.Store) {
	t.Helper()
	st, err := jsonstore.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return patient.NewResolver(st, zap.NewNop()), st
}

func putPatient(t *testing.T, st *jsonstore.Store, name, phone, email string, dob time.Time) *patient.Patient {
	t.Helper()
	now := time.Now().UTC()
	p := &patient.Patient{
		ID:          uuid.New(),
		Name:        name,
		Phone:       phone,
		Email:       patient.NormalizeEmail(email),
		DateOfBirth: dob,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.PutPatient(context.Background(), p))
	return p
}

func TestResolveByPhoneUnique(t *testing.T) {
	r, st := newTestResolver(t)
	want := putPatient(t, st, "Maria Lopez", "(555) 010-2030", "maria@example.com", time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC))
	putPatient(t, st, "James Chen", "555-444-5566", "james@example.com", time.Date(1990, 2, 14, 0, 0, 0, 0, time.UTC))

	// Formatting differences must not matter; only digits are compared.
	res, err := r.Resolve(context.Background(), patient.Attributes{Phone: "555.010.2030"})
	require.NoError(t, err)

	assert.Equal(t, patient.OutcomeUnique, res.Outcome)
	require.NotNil(t, res.Patient)
	assert.Equal(t, want.ID, res.Patient.ID)
}

func TestResolveSharedPhoneIsAmbiguous(t *testing.T) {
	r, st := newTestResolver(t)
	putPatient(t, st, "Ana Silva", "555-010-2030", "ana@example.com", time.Date(1982, 3, 9, 0, 0, 0, 0, time.UTC))
	putPatient(t, st, "Bruno Silva", "555-010-2030", "bruno@example.com", time.Date(1984, 11, 2, 0, 0, 0, 0, time.UTC))

	// A household landline hits both records; the resolver must not guess.
	res, err := r.Resolve(context.Background(), patient.Attributes{Phone: "5550102030"})
	require.NoError(t, err)

	assert.Equal(t, patient.OutcomeAmbiguous, res.Outcome)
	assert.Len(t, res.Candidates, 2)
	assert.Equal(t, "email", res.Clarify)
	assert.Nil(t, res.Patient)
}

func TestResolveSharedPhoneNarrowedByName(t *testing.T) {
	r, st := newTestResolver(t)
	want := putPatient(t, st, "Ana Silva", "555-010-2030", "ana@example.com", time.Date(1982, 3, 9, 0, 0, 0, 0, time.UTC))
	putPatient(t, st, "Bruno Silva", "555-010-2030", "bruno@example.com", time.Date(1984, 11, 2, 0, 0, 0, 0, time.UTC))

	res, err := r.Resolve(context.Background(), patient.Attributes{Phone: "555-010-2030", Name: "ana silva"})
	require.NoError(t, err)

	assert.Equal(t, patient.OutcomeUnique, res.Outcome)
	require.NotNil(t, res.Patient)
	assert.Equal(t, want.ID, res.Patient.ID)
}

func TestResolveNoMatch(t *testing.T) {
	r, st := newTestResolver(t)
	putPatient(t, st, "Maria Lopez", "555-010-2030", "maria@example.com", time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC))

	res, err := r.Resolve(context.Background(), patient.Attributes{Phone: "555-999-9999"})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeNoMatch, res.Outcome)
}

func TestResolveByPatientID(t *testing.T) {
	r, st := newTestResolver(t)
	want := putPatient(t, st, "Maria Lopez", "555-010-2030", "maria@example.com", time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	res, err := r.Resolve(ctx, patient.Attributes{PatientID: want.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeUnique, res.Outcome)

	res, err = r.Resolve(ctx, patient.Attributes{PatientID: uuid.New().String()})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeNoMatch, res.Outcome)

	var verr *patient.ValidationError
	_, err = r.Resolve(ctx, patient.Attributes{PatientID: "not-a-uuid"})
	require.ErrorAs(t, err, &verr)
}

func TestResolveByNameAndDOB(t *testing.T) {
	r, st := newTestResolver(t)
	want := putPatient(t, st, "Maria Lopez", "555-010-2030", "maria@example.com", time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC))
	putPatient(t, st, "Maria Lopez", "555-777-8899", "m.lopez@example.com", time.Date(1992, 9, 20, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	res, err := r.Resolve(ctx, patient.Attributes{Name: "Maria Lopez"})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeAmbiguous, res.Outcome)
	assert.Equal(t, "phone", res.Clarify)

	res, err = r.Resolve(ctx, patient.Attributes{Name: "Maria Lopez", DateOfBirth: "1985-06-01"})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeUnique, res.Outcome)
	require.NotNil(t, res.Patient)
	assert.Equal(t, want.ID, res.Patient.ID)

	// Nothing to go on at all is a validation problem, not a lookup miss.
	var verr *patient.ValidationError
	_, err = r.Resolve(ctx, patient.Attributes{})
	require.ErrorAs(t, err, &verr)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		attrs  patient.Attributes
		fields []string
	}{
		{
			name:   "empty",
			attrs:  patient.Attributes{},
			fields: []string{"name", "phone or email", "date_of_birth"},
		},
		{
			name: "short phone",
			attrs: patient.Attributes{
				Name:        "Maria Lopez",
				Phone:       "12345",
				DateOfBirth: "1985-06-01",
			},
			fields: []string{"phone"},
		},
		{
			name: "bad email",
			attrs: patient.Attributes{
				Name:        "Maria Lopez",
				Email:       "not-an-email",
				DateOfBirth: "1985-06-01",
			},
			fields: []string{"email"},
		},
		{
			name: "bad date",
			attrs: patient.Attributes{
				Name:        "Maria Lopez",
				Phone:       "555-010-2030",
				DateOfBirth: "06/01/1985",
			},
			fields: []string{"date_of_birth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(ctx, tt.attrs)
			var verr *patient.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.fields, verr.Fields)
		})
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	p, err := r.Register(ctx, patient.Attributes{
		Name:        "Maria Lopez",
		Phone:       "555-010-2030",
		Email:       "Maria@Example.com",
		DateOfBirth: "1985-06-01",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, "maria@example.com", p.Email)

	res, err := r.Resolve(ctx, patient.Attributes{Email: "MARIA@example.com"})
	require.NoError(t, err)
	assert.Equal(t, patient.OutcomeUnique, res.Outcome)
	assert.Equal(t, p.ID, res.Patient.ID)
}

func TestRegisterIdempotencyToken(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	attrs := patient.Attributes{
		Name:             "Maria Lopez",
		Phone:            "555-010-2030",
		DateOfBirth:      "1985-06-01",
		IdempotencyToken: "req-abc-123",
	}

	first, err := r.Register(ctx, attrs)
	require.NoError(t, err)

	second, err := r.Register(ctx, attrs)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := r.Query(ctx, patient.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdatePatient(t *testing.T) {
	r, st := newTestResolver(t)
	p := putPatient(t, st, "Maria Lopez", "555-010-2030", "maria@example.com", time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	updated, err := r.Update(ctx, p.ID, patient.Attributes{Phone: "555-222-3344"})
	require.NoError(t, err)
	assert.Equal(t, "555-222-3344", updated.Phone)
	assert.Equal(t, "maria@example.com", updated.Email)

	var verr *patient.ValidationError
	_, err = r.Update(ctx, p.ID, patient.Attributes{Phone: "123"})
	require.ErrorAs(t, err, &verr)

	_, err = r.Update(ctx, uuid.New(), patient.Attributes{Name: "Nobody"})
	assert.ErrorIs(t, err, patient.ErrPatientNotFound)
}
