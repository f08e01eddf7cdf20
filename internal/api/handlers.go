package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/core"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/session"
	"github.com/dentalops/clinic-scheduler/internal/store"
)

func resolvePatientHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResolvePatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := svc.ResolvePatient(r.Context(), req.SessionID, patient.Attributes{
			PatientID:   req.PatientID,
			Name:        req.Name,
			Phone:       req.Phone,
			Email:       req.Email,
			DateOfBirth: req.DateOfBirth,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := ResolveResponse{Outcome: string(res.Outcome), Clarify: res.Clarify}
		if res.Patient != nil {
			p := toPatientResponse(res.Patient)
			resp.Patient = &p
		}
		for i := range res.Candidates {
			resp.Candidates = append(resp.Candidates, toPatientResponse(&res.Candidates[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func registerPatientHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := svc.RegisterPatient(r.Context(), req.SessionID, patient.Attributes{
			Name:             req.Name,
			Phone:            req.Phone,
			Email:            req.Email,
			DateOfBirth:      req.DateOfBirth,
			InsuranceNote:    req.InsuranceNote,
			Notes:            req.Notes,
			IdempotencyToken: req.IdempotencyToken,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toPatientResponse(p))
	}
}

func updatePatientHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		var req UpdatePatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := svc.UpdatePatient(r.Context(), id, patient.Attributes{
			Name:          req.Name,
			Phone:         req.Phone,
			Email:         req.Email,
			InsuranceNote: req.InsuranceNote,
			Notes:         req.Notes,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(p))
	}
}

func queryPatientsHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := patient.Filter{
			Phone:  patient.NormalizePhone(q.Get("phone")),
			Email:  patient.NormalizeEmail(q.Get("email")),
			Name:   q.Get("name"),
			Search: q.Get("search"),
		}

		patients, err := svc.QueryPatients(r.Context(), f)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]PatientResponse, 0, len(patients))
		for i := range patients {
			resp = append(resp, toPatientResponse(&patients[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		resourceID := q.Get("resource_id")
		if resourceID == "" {
			writeError(w, http.StatusBadRequest, "missing_resource_id", "resource_id query parameter is required")
			return
		}
		day, err := time.Parse("2006-01-02", q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		apptType := schedule.AppointmentType(q.Get("type"))

		var slots []time.Time
		if q.Get("offer") == "true" {
			var preferred *time.Time
			if raw := q.Get("preferred"); raw != "" {
				t, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_preferred", "preferred must be RFC3339")
					return
				}
				preferred = &t
			}
			slots, err = svc.OfferAlternatives(r.Context(), q.Get("session_id"), resourceID, day, apptType, preferred)
		} else {
			slots, err = svc.ListAvailability(r.Context(), resourceID, day, apptType)
		}
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ResourceID: resourceID,
			Date:       day.Format("2006-01-02"),
			Type:       string(apptType),
			Slots:      slots,
		})
	}
}

func bookAppointmentHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		appt, update, err := svc.BookAppointment(r.Context(), patientID, req.ResourceID, req.Start, schedule.AppointmentType(req.Type), req.Notes)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, TransitionResponse{
			Appointment:    toAppointmentResponse(appt),
			ScheduleUpdate: toScheduleUpdateResponse(update),
		})
	}
}

func getAppointmentHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func queryAppointmentsHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := appointmentFilterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
			return
		}

		appts, err := svc.QueryAppointments(r.Context(), f)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func confirmAppointmentHandler(svc *core.Scheduler) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*booking.Appointment, core.ScheduleUpdate, error) {
		return svc.ConfirmAppointment(r.Context(), id)
	})
}

func cancelAppointmentHandler(svc *core.Scheduler) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*booking.Appointment, core.ScheduleUpdate, error) {
		var req CancelAppointmentRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, core.ScheduleUpdate{}, errors.Join(booking.ErrInvalidRequest, err)
			}
		}
		return svc.CancelAppointment(r.Context(), id, req.Reason)
	})
}

func completeAppointmentHandler(svc *core.Scheduler) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*booking.Appointment, core.ScheduleUpdate, error) {
		return svc.CompleteAppointment(r.Context(), id)
	})
}

func transitionHandler(apply func(*http.Request, uuid.UUID) (*booking.Appointment, core.ScheduleUpdate, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, update, err := apply(r, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, TransitionResponse{
			Appointment:    toAppointmentResponse(appt),
			ScheduleUpdate: toScheduleUpdateResponse(update),
		})
	}
}

func rescheduleAppointmentHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		oldAppt, newAppt, update, err := svc.RescheduleAppointment(r.Context(), id, req.NewStart, req.NewResourceID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, RescheduleResponse{
			Original:       toAppointmentResponse(oldAppt),
			Replacement:    toAppointmentResponse(newAppt),
			ScheduleUpdate: toScheduleUpdateResponse(update),
		})
	}
}

func acceptOfferHandler(svc *core.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		var req AcceptOfferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, update, err := svc.AcceptOffer(r.Context(), sessionID, req.Choice, req.Notes)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, TransitionResponse{
			Appointment:    toAppointmentResponse(appt),
			ScheduleUpdate: toScheduleUpdateResponse(update),
		})
	}
}

func appointmentFilterFromQuery(r *http.Request) (booking.Filter, error) {
	q := r.URL.Query()
	var f booking.Filter

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, booking.Status(strings.TrimSpace(s)))
		}
	}
	if raw := q.Get("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, errors.New("patient_id must be a valid UUID")
		}
		f.PatientID = &id
	}
	f.ResourceID = q.Get("resource_id")
	f.Search = q.Get("search")
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New("from must be RFC3339")
		}
		f.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New("to must be RFC3339")
		}
		f.To = &t
	}
	return f, nil
}

func handleDomainError(w http.ResponseWriter, err error) {
	var verr *patient.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Details: verr.Error(),
			Fields:  verr.Fields,
		})
	case errors.Is(err, booking.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, schedule.ErrUnknownType):
		writeError(w, http.StatusBadRequest, "unknown_appointment_type", err.Error())
	case errors.Is(err, patient.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrOutOfHours):
		writeError(w, http.StatusUnprocessableEntity, "out_of_hours", err.Error())
	case errors.Is(err, booking.ErrBusy):
		w.Header().Set("Retry-After", strconv.Itoa(1))
		writeError(w, http.StatusServiceUnavailable, "resource_busy", "slot is currently being booked, please retry shortly")
	case errors.Is(err, store.ErrStorageFailure):
		writeError(w, http.StatusInternalServerError, "storage_failure", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
