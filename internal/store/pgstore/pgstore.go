// Package pgstore is the Postgres-backed persistence layer. Filters compile
// to conjunctive WHERE clauses; multi-record appointment writes run in a
// single transaction.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const patientColumns = `id, name, phone, email, date_of_birth, insurance_note, notes, registration_token, created_at, updated_at`

func scanPatient(row pgx.Row) (*patient.Patient, error) {
	var (
		p         patient.Patient
		insurance *string
		notes     *string
		token     *string
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Phone,
		&p.Email,
		&p.DateOfBirth,
		&insurance,
		&notes,
		&token,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, patient.ErrPatientNotFound
		}
		return nil, fmt.Errorf("scan patient: %w: %w", store.ErrStorageFailure, err)
	}
	if insurance != nil {
		p.InsuranceNote = *insurance
	}
	if notes != nil {
		p.Notes = *notes
	}
	if token != nil {
		p.RegistrationToken = *token
	}
	return &p, nil
}

func (s *Store) GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (s *Store) PutPatient(ctx context.Context, p *patient.Patient) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (id, name, phone, email, date_of_birth, insurance_note, notes, registration_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			date_of_birth = EXCLUDED.date_of_birth,
			insurance_note = EXCLUDED.insurance_note,
			notes = EXCLUDED.notes,
			registration_token = EXCLUDED.registration_token,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Phone, p.Email, p.DateOfBirth, nullable(p.InsuranceNote), nullable(p.Notes), nullable(p.RegistrationToken), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert patient: %w: %w", store.ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) QueryPatients(ctx context.Context, f patient.Filter) ([]patient.Patient, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ID != nil {
		where = append(where, "id = "+arg(*f.ID))
	}
	if f.Phone != "" {
		where = append(where, `regexp_replace(phone, '\D', '', 'g') = `+arg(f.Phone))
	}
	if f.Email != "" {
		where = append(where, "lower(email) = "+arg(f.Email))
	}
	if f.Name != "" {
		where = append(where, "lower(btrim(name)) = lower("+arg(f.Name)+")")
	}
	if f.DateOfBirth != nil {
		where = append(where, "date_of_birth = "+arg(*f.DateOfBirth))
	}
	if f.RegistrationToken != "" {
		where = append(where, "registration_token = "+arg(f.RegistrationToken))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(name ILIKE "+p+" OR notes ILIKE "+p+")")
	}

	query := `SELECT ` + patientColumns + ` FROM patients`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w: %w", store.ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []patient.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query patients: %w: %w", store.ErrStorageFailure, err)
	}
	return out, nil
}

const appointmentColumns = `id, patient_id, patient_name, resource_id, start_at, duration_minutes, type, status, notes, cancel_reason, rescheduled_from, created_at, updated_at`

func scanAppointment(row pgx.Row) (*booking.Appointment, error) {
	var (
		a               booking.Appointment
		durationMinutes int
		apptType        string
		status          string
		notes           *string
		cancelReason    *string
		rescheduledFrom *uuid.UUID
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.ResourceID,
		&a.Start,
		&durationMinutes,
		&apptType,
		&status,
		&notes,
		&cancelReason,
		&rescheduledFrom,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("scan appointment: %w: %w", store.ErrStorageFailure, err)
	}
	a.Duration = time.Duration(durationMinutes) * time.Minute
	a.Type = schedule.AppointmentType(apptType)
	a.Status = booking.Status(status)
	if notes != nil {
		a.Notes = *notes
	}
	if cancelReason != nil {
		a.CancelReason = *cancelReason
	}
	a.RescheduledFrom = rescheduledFrom
	return &a, nil
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (s *Store) PutAppointments(ctx context.Context, appts ...*booking.Appointment) error {
	if len(appts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin appointment write: %w: %w", store.ErrStorageFailure, err)
	}
	defer tx.Rollback(ctx)

	for _, a := range appts {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, patient_id, patient_name, resource_id, start_at, duration_minutes, type, status, notes, cancel_reason, rescheduled_from, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				patient_id = EXCLUDED.patient_id,
				patient_name = EXCLUDED.patient_name,
				resource_id = EXCLUDED.resource_id,
				start_at = EXCLUDED.start_at,
				duration_minutes = EXCLUDED.duration_minutes,
				type = EXCLUDED.type,
				status = EXCLUDED.status,
				notes = EXCLUDED.notes,
				cancel_reason = EXCLUDED.cancel_reason,
				rescheduled_from = EXCLUDED.rescheduled_from,
				updated_at = EXCLUDED.updated_at
		`, a.ID, a.PatientID, a.PatientName, a.ResourceID, a.Start, int(a.Duration/time.Minute), string(a.Type), string(a.Status), nullable(a.Notes), nullable(a.CancelReason), a.RescheduledFrom, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert appointment %s: %w: %w", a.ID, store.ErrStorageFailure, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit appointment write: %w: %w", store.ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) QueryAppointments(ctx context.Context, f booking.Filter) ([]booking.Appointment, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if f.PatientID != nil {
		where = append(where, "patient_id = "+arg(*f.PatientID))
	}
	if f.ResourceID != "" {
		where = append(where, "resource_id = "+arg(f.ResourceID))
	}
	if f.From != nil {
		where = append(where, "start_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "start_at < "+arg(*f.To))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(patient_name ILIKE "+p+" OR notes ILIKE "+p+")")
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w: %w", store.ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []booking.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query appointments: %w: %w", store.ErrStorageFailure, err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
