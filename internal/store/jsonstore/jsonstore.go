// Package jsonstore persists patients and appointments as two flat JSON
// collections on disk. Every mutation rewrites the whole collection to a
// temp file and renames it over the old one, so a crash mid-write leaves
// either the previous or the new file, never a truncated mix. An RWMutex
// keeps reader and writer waits bounded.
package jsonstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/store"
)

const (
	patientsFile     = "patients.json"
	appointmentsFile = "appointments.json"
)

type Store struct {
	mu  sync.RWMutex
	dir string
	log *zap.Logger

	patients     map[uuid.UUID]patient.Patient
	appointments map[uuid.UUID]booking.Appointment
}

// Open loads (or initializes) the two collections under dir.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w: %w", store.ErrStorageFailure, err)
	}

	s := &Store{
		dir:          dir,
		log:          log,
		patients:     make(map[uuid.UUID]patient.Patient),
		appointments: make(map[uuid.UUID]booking.Appointment),
	}
	if err := s.loadPatients(); err != nil {
		return nil, err
	}
	if err := s.loadAppointments(); err != nil {
		return nil, err
	}

	log.Info("json store opened",
		zap.String("dir", dir),
		zap.Int("patients", len(s.patients)),
		zap.Int("appointments", len(s.appointments)))

	return s, nil
}

// patient.Repository

func (s *Store) GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return &p, nil
}

func (s *Store) PutPatient(ctx context.Context, p *patient.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.patients[p.ID]
	s.patients[p.ID] = *p
	if err := s.persistPatients(); err != nil {
		// Roll the cache back so memory matches the file that survived.
		if existed {
			s.patients[p.ID] = prev
		} else {
			delete(s.patients, p.ID)
		}
		return err
	}
	return nil
}

func (s *Store) QueryPatients(ctx context.Context, f patient.Filter) ([]patient.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []patient.Patient
	for _, p := range s.patients {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// booking.Repository

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	return &a, nil
}

// PutAppointments applies all given records in one collection rewrite, so a
// multi-record transition (reschedule) is a single atomic file replacement.
func (s *Store) PutAppointments(ctx context.Context, appts ...*booking.Appointment) error {
	if len(appts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type undo struct {
		id      uuid.UUID
		prev    booking.Appointment
		existed bool
	}
	undos := make([]undo, 0, len(appts))

	for _, a := range appts {
		prev, existed := s.appointments[a.ID]
		undos = append(undos, undo{id: a.ID, prev: prev, existed: existed})
		s.appointments[a.ID] = *a
	}

	if err := s.persistAppointments(); err != nil {
		for _, u := range undos {
			if u.existed {
				s.appointments[u.id] = u.prev
			} else {
				delete(s.appointments, u.id)
			}
		}
		return err
	}
	return nil
}

func (s *Store) QueryAppointments(ctx context.Context, f booking.Filter) ([]booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []booking.Appointment
	for _, a := range s.appointments {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// On-disk layout. The collections mirror the clinic's historical JSON files:
// a single object with one array per collection.

type patientRecord struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	DateOfBirth       string `json:"date_of_birth"`
	InsuranceNote     string `json:"insurance_note,omitempty"`
	Notes             string `json:"notes,omitempty"`
	RegistrationToken string `json:"registration_token,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type appointmentRecord struct {
	ID              string `json:"id"`
	PatientID       string `json:"patient_id"`
	PatientName     string `json:"patient_name"`
	ResourceID      string `json:"resource_id"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	RescheduledFrom string `json:"rescheduled_from,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type patientsDoc struct {
	Patients []patientRecord `json:"patients"`
}

type appointmentsDoc struct {
	Appointments []appointmentRecord `json:"appointments"`
}

func (s *Store) loadPatients() error {
	path := filepath.Join(s.dir, patientsFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w: %w", patientsFile, store.ErrStorageFailure, err)
	}

	var doc patientsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w: %w", patientsFile, store.ErrStorageFailure, err)
	}

	for _, rec := range doc.Patients {
		p, err := rec.toPatient()
		if err != nil {
			return fmt.Errorf("parse %s: %w: %w", patientsFile, store.ErrStorageFailure, err)
		}
		s.patients[p.ID] = p
	}
	return nil
}

func (s *Store) loadAppointments() error {
	path := filepath.Join(s.dir, appointmentsFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w: %w", appointmentsFile, store.ErrStorageFailure, err)
	}

	var doc appointmentsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w: %w", appointmentsFile, store.ErrStorageFailure, err)
	}

	for _, rec := range doc.Appointments {
		a, err := rec.toAppointment()
		if err != nil {
			return fmt.Errorf("parse %s: %w: %w", appointmentsFile, store.ErrStorageFailure, err)
		}
		s.appointments[a.ID] = a
	}
	return nil
}

func (s *Store) persistPatients() error {
	doc := patientsDoc{Patients: make([]patientRecord, 0, len(s.patients))}
	for _, p := range s.patients {
		doc.Patients = append(doc.Patients, fromPatient(p))
	}
	sort.Slice(doc.Patients, func(i, j int) bool { return doc.Patients[i].ID < doc.Patients[j].ID })
	return s.atomicWrite(patientsFile, doc)
}

func (s *Store) persistAppointments() error {
	doc := appointmentsDoc{Appointments: make([]appointmentRecord, 0, len(s.appointments))}
	for _, a := range s.appointments {
		doc.Appointments = append(doc.Appointments, fromAppointment(a))
	}
	sort.Slice(doc.Appointments, func(i, j int) bool { return doc.Appointments[i].ID < doc.Appointments[j].ID })
	return s.atomicWrite(appointmentsFile, doc)
}

// atomicWrite marshals v and replaces dir/name via temp-write-then-rename.
func (s *Store) atomicWrite(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w: %w", name, store.ErrStorageFailure, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w: %w", name, store.ErrStorageFailure, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w: %w", name, store.ErrStorageFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w: %w", name, store.ErrStorageFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w: %w", name, store.ErrStorageFailure, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w: %w", name, store.ErrStorageFailure, err)
	}
	return nil
}

func fromPatient(p patient.Patient) patientRecord {
	return patientRecord{
		ID:                p.ID.String(),
		Name:              p.Name,
		Phone:             p.Phone,
		Email:             p.Email,
		DateOfBirth:       p.DateOfBirth.Format("2006-01-02"),
		InsuranceNote:     p.InsuranceNote,
		Notes:             p.Notes,
		RegistrationToken: p.RegistrationToken,
		CreatedAt:         p.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (rec patientRecord) toPatient() (patient.Patient, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("patient id %q: %w", rec.ID, err)
	}
	dob, err := time.Parse("2006-01-02", rec.DateOfBirth)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("patient %s date_of_birth: %w", rec.ID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("patient %s created_at: %w", rec.ID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	if err != nil {
		return patient.Patient{}, fmt.Errorf("patient %s updated_at: %w", rec.ID, err)
	}
	return patient.Patient{
		ID:                id,
		Name:              rec.Name,
		Phone:             rec.Phone,
		Email:             rec.Email,
		DateOfBirth:       dob,
		InsuranceNote:     rec.InsuranceNote,
		Notes:             rec.Notes,
		RegistrationToken: rec.RegistrationToken,
		CreatedAt:         created,
		UpdatedAt:         updated,
	}, nil
}

func fromAppointment(a booking.Appointment) appointmentRecord {
	rec := appointmentRecord{
		ID:              a.ID.String(),
		PatientID:       a.PatientID.String(),
		PatientName:     a.PatientName,
		ResourceID:      a.ResourceID,
		Start:           a.Start.Format(time.RFC3339Nano),
		DurationMinutes: int(a.Duration / time.Minute),
		Type:            string(a.Type),
		Status:          string(a.Status),
		Notes:           a.Notes,
		CancelReason:    a.CancelReason,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       a.UpdatedAt.Format(time.RFC3339Nano),
	}
	if a.RescheduledFrom != nil {
		rec.RescheduledFrom = a.RescheduledFrom.String()
	}
	return rec
}

func (rec appointmentRecord) toAppointment() (booking.Appointment, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return booking.Appointment{}, fmt.Errorf("appointment id %q: %w", rec.ID, err)
	}
	patientID, err := uuid.Parse(rec.PatientID)
	if err != nil {
		return booking.Appointment{}, fmt.Errorf("appointment %s patient_id: %w", rec.ID, err)
	}
	start, err := time.Parse(time.RFC3339Nano, rec.Start)
	if err != nil {
		return booking.Appointment{}, fmt.Errorf("appointment %s start: %w", rec.ID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return booking.Appointment{}, fmt.Errorf("appointment %s created_at: %w", rec.ID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	if err != nil {
		return booking.Appointment{}, fmt.Errorf("appointment %s updated_at: %w", rec.ID, err)
	}

	a := booking.Appointment{
		ID:           id,
		PatientID:    patientID,
		PatientName:  rec.PatientName,
		ResourceID:   rec.ResourceID,
		Start:        start,
		Duration:     time.Duration(rec.DurationMinutes) * time.Minute,
		Type:         schedule.AppointmentType(rec.Type),
		Status:       booking.Status(rec.Status),
		Notes:        rec.Notes,
		CancelReason: rec.CancelReason,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
	if rec.RescheduledFrom != "" {
		from, err := uuid.Parse(rec.RescheduledFrom)
		if err != nil {
			return booking.Appointment{}, fmt.Errorf("appointment %s rescheduled_from: %w", rec.ID, err)
		}
		a.RescheduledFrom = &from
	}
	return a, nil
}
