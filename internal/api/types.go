package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/core"
	"github.com/dentalops/clinic-scheduler/internal/patient"
)

type ResolvePatientRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	PatientID   string `json:"patient_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

type RegisterPatientRequest struct {
	SessionID        string `json:"session_id,omitempty"`
	Name             string `json:"name"`
	Phone            string `json:"phone,omitempty"`
	Email            string `json:"email,omitempty"`
	DateOfBirth      string `json:"date_of_birth"`
	InsuranceNote    string `json:"insurance_note,omitempty"`
	Notes            string `json:"notes,omitempty"`
	IdempotencyToken string `json:"idempotency_token,omitempty"`
}

type UpdatePatientRequest struct {
	Name          string `json:"name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	InsuranceNote string `json:"insurance_note,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type BookAppointmentRequest struct {
	PatientID  string    `json:"patient_id"`
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	Type       string    `json:"type"`
	Notes      string    `json:"notes,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RescheduleAppointmentRequest struct {
	NewStart      time.Time `json:"new_start"`
	NewResourceID string    `json:"new_resource_id,omitempty"`
}

type AcceptOfferRequest struct {
	Choice int    `json:"choice"`
	Notes  string `json:"notes,omitempty"`
}

type PatientResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	DateOfBirth   string `json:"date_of_birth"`
	InsuranceNote string `json:"insurance_note,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type ResolveResponse struct {
	Outcome    string            `json:"outcome"`
	Patient    *PatientResponse  `json:"patient,omitempty"`
	Candidates []PatientResponse `json:"candidates,omitempty"`
	Clarify    string            `json:"clarify,omitempty"`
}

type AppointmentResponse struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patient_id"`
	PatientName     string    `json:"patient_name"`
	ResourceID      string    `json:"resource_id"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CancelReason    string    `json:"cancel_reason,omitempty"`
	RescheduledFrom string    `json:"rescheduled_from,omitempty"`
}

type ScheduleUpdateResponse struct {
	PatientID     string     `json:"patient_id"`
	PatientName   string     `json:"patient_name"`
	Status        string     `json:"status"`
	OriginalStart *time.Time `json:"original_appointment,omitempty"`
	NewStart      *time.Time `json:"new_appointment,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

type TransitionResponse struct {
	Appointment    AppointmentResponse    `json:"appointment"`
	ScheduleUpdate ScheduleUpdateResponse `json:"schedule_update"`
}

type RescheduleResponse struct {
	Original       AppointmentResponse    `json:"original"`
	Replacement    AppointmentResponse    `json:"replacement"`
	ScheduleUpdate ScheduleUpdateResponse `json:"schedule_update"`
}

type AvailabilityResponse struct {
	ResourceID string      `json:"resource_id"`
	Date       string      `json:"date"`
	Type       string      `json:"type"`
	Slots      []time.Time `json:"slots"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

func toPatientResponse(p *patient.Patient) PatientResponse {
	return PatientResponse{
		ID:            p.ID.String(),
		Name:          p.Name,
		Phone:         p.Phone,
		Email:         p.Email,
		DateOfBirth:   p.DateOfBirth.Format("2006-01-02"),
		InsuranceNote: p.InsuranceNote,
		Notes:         p.Notes,
	}
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              a.ID.String(),
		PatientID:       a.PatientID.String(),
		PatientName:     a.PatientName,
		ResourceID:      a.ResourceID,
		Start:           a.Start,
		DurationMinutes: int(a.Duration / time.Minute),
		Type:            string(a.Type),
		Status:          string(a.Status),
		Notes:           a.Notes,
		CancelReason:    a.CancelReason,
	}
	if a.RescheduledFrom != nil {
		resp.RescheduledFrom = a.RescheduledFrom.String()
	}
	return resp
}

func toScheduleUpdateResponse(u core.ScheduleUpdate) ScheduleUpdateResponse {
	return ScheduleUpdateResponse{
		PatientID:     u.PatientID,
		PatientName:   u.PatientName,
		Status:        string(u.Status),
		OriginalStart: u.OriginalStart,
		NewStart:      u.NewStart,
		Notes:         u.Notes,
		Reason:        u.Reason,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
