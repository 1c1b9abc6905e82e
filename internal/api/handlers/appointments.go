// appointments.go — обработчики /api/v1/appointments.
// Авторизация изменений выполняется в сервисном слое по Principal из контекста.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/api/middleware"
	"github.com/simeonov123/MedicalRecords-sub000/internal/service"
)

// CreateAppointment — POST /api/v1/appointments.
func (h *APIHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentCreateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.svc.Appointments.Create(r.Context(), middleware.PrincipalFromContext(r.Context()), service.AppointmentInput{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		h.writeServiceError(w, r, "create_appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapAppointment(appt))
}

// GetAppointment — GET /api/v1/appointments/{appointmentID}.
func (h *APIHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Appointments.Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeServiceError(w, r, "get_appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, mapAppointment(appt))
}

// GetAppointmentRecord — GET /api/v1/appointments/{appointmentID}/record.
// Приём со всеми диагнозами, лечениями, назначениями и больничными.
func (h *APIHandler) GetAppointmentRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Appointments.GetRecord(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeServiceError(w, r, "get_appointment_record", err)
		return
	}
	writeJSON(w, http.StatusOK, mapRecord(rec))
}

// UpdateAppointment — PUT /api/v1/appointments/{appointmentID}.
func (h *APIHandler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentUpdateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.svc.Appointments.Update(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "appointmentID"), service.AppointmentUpdate{
			PatientID:   req.PatientID,
			DoctorID:    req.DoctorID,
			ScheduledAt: req.ScheduledAt,
		})
	if err != nil {
		h.writeServiceError(w, r, "update_appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, mapAppointment(appt))
}

// DeleteAppointment — DELETE /api/v1/appointments/{appointmentID}.
// Удаляет приём вместе со всеми клиническими записями.
func (h *APIHandler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Appointments.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeServiceError(w, r, "delete_appointment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
