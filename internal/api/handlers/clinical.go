// clinical.go — обработчики клинических записей приёма:
// диагнозы, лечения, назначения, больничные листы.
// Цепочка предков берётся из URL и проверяется сервисом на каждом уровне.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/api/middleware"
	"github.com/simeonov123/MedicalRecords-sub000/internal/service"
)

// chain — идентификаторы узлов клинического дерева из URL.
type chain struct {
	appointmentID  string
	diagnosisID    string
	treatmentID    string
	prescriptionID string
	sickLeaveID    string
}

func chainFromRequest(r *http.Request) chain {
	return chain{
		appointmentID:  chi.URLParam(r, "appointmentID"),
		diagnosisID:    chi.URLParam(r, "diagnosisID"),
		treatmentID:    chi.URLParam(r, "treatmentID"),
		prescriptionID: chi.URLParam(r, "prescriptionID"),
		sickLeaveID:    chi.URLParam(r, "sickLeaveID"),
	}
}

// --- Диагнозы ---

func (req diagnosisRequest) input() service.DiagnosisInput {
	return service.DiagnosisInput{Statement: req.Statement, DiagnosedAt: req.DiagnosedAt}
}

// CreateDiagnosis — POST /api/v1/appointments/{appointmentID}/diagnoses.
func (h *APIHandler) CreateDiagnosis(w http.ResponseWriter, r *http.Request) {
	var req diagnosisRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := chainFromRequest(r)

	d, err := h.svc.Diagnoses.Create(r.Context(), middleware.PrincipalFromContext(r.Context()), c.appointmentID, req.input())
	if err != nil {
		h.writeServiceError(w, r, "create_diagnosis", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapDiagnosis(d))
}

// GetDiagnosis — GET .../diagnoses/{diagnosisID}.
func (h *APIHandler) GetDiagnosis(w http.ResponseWriter, r *http.Request) {
	c := chainFromRequest(r)
	d, err := h.svc.Diagnoses.Get(r.Context(), c.appointmentID, c.diagnosisID)
	if err != nil {
		h.writeServiceError(w, r, "get_diagnosis", err)
		return
	}
	writeJSON(w, http.StatusOK, mapDiagnosis(d))
}

// UpdateDiagnosis — PUT .../diagnoses/{diagnosisID}.
func (h *APIHandler) UpdateDiagnosis(w http.ResponseWriter, r *http.Request) {
	var req diagnosisRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := chainFromRequest(r)

	d, err := h.svc.Diagnoses.Update(r.Context(), middleware.PrincipalFromContext(r.Context()),
		c.appointmentID, c.diagnosisID, req.input())
	if err != nil {
		h.writeServiceError(w, r, "update_diagnosis", err)
		return
	}
	writeJSON(w, http.StatusOK, mapDiagnosis(d))
}

// DeleteDiagnosis — DELETE .../diagnoses/{diagnosisID}.
// Удаляет диагноз вместе с лечениями и назначениями.
func (h *APIHandler) DeleteDiagnosis(w http.ResponseWriter, r *http.Request) {
	c := chainFromRequest(r)
	err := h.svc.Diagnoses.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()), c.appointmentID, c.diagnosisID)
	if err != nil {
		h.writeServiceError(w, r, "delete_diagnosis", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Лечения ---

func (req treatmentRequest) input() service.TreatmentInput {
	in := service.TreatmentInput{Description: req.Description, StartDate: req.StartDate.Time}
	if req.EndDate != nil {
		end := req.EndDate.Time
		in.EndDate = &end
	}
	return in
}

// CreateTreatment — POST .../diagnoses/{diagnosisID}/treatments.
func (h *APIHandler) CreateTreatment(w http.ResponseWriter, r *http.Request) {
	var req treatmentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := chainFromRequest(r)

	t, err := h.svc.Treatments.Create(r.Context(), middleware.PrincipalFromContext(r.Context()),
		c.appointmentID, c.diagnosisID, req.input())
	if err != nil {
		h.writeServiceError(w, r, "create_treatment", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapTreatment(t))
}

// GetTreatment — GET .../treatments/{treatmentID}.
func (h *APIHandler) GetTreatment(w http.ResponseWriter, r *http.Request) {
	c := chainFromRequest(r)
	t, err := h.svc.Treatments.Get(r.Context(), c.appointmentID, c.diagnosisID, c.treatmentID)
	if err != nil {
		h.writeServiceError(w, r, "get_treatment", err)
		return
	}
	writeJSON(w, http.StatusOK, mapTreatment(t))
}

// UpdateTreatment — PUT .../treatments/{treatmentID}.
func (h *APIHandler) UpdateTreatment(w http.ResponseWriter, r *http.Request) {
	var req treatmentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := chainFromRequest(r)

	t, err := h.svc.Treatments.Update(r.Context(), middleware.PrincipalFromContext(r.Context()),
		c.appointmentID, c.diagnosisID, c.treatmentID, req.input())
	if err != nil {
		h.writeServiceError(w, r, "update_treatment", err)
		return
	}
	writeJSON(w, http.StatusOK, mapTreatment(t))
}

// DeleteTreatment — DELETE .../treatments/{treatmentID}.
func (h *APIHandler) DeleteTreatment(w http.ResponseWriter, r *http.Request) {
	c := chainFromRequest(r)
	err := h.svc.Treatments.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()),
		c.appointmentID, c.diagnosisID, c.treatmentID)
	if err != nil {
		h.writeServiceError(w, r, "delete_treatment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Назначения ---

func (req prescriptionRequest) input() service.PrescriptionInput {
	return service.PrescriptionInput{
		MedicationID: req.MedicationID,
		Dosage:       req.Dosage,
		DurationDays: req.DurationDays,
	}
}

// CreatePrescription — POST .../treatments/{treatmentID}/prescriptions.
func (h *APIHandler) CreatePrescription(w http.ResponseWriter, r *http.Request) {
	var req prescriptionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := chainFromRequest(r)

	p, err := h.svc.Prescriptions.Create(r.Context(), middleware.PrincipalFromContext(r.Context()),
		c.appointmentID, c.diagnosisID, c.treatmentID, req.input())
	if err != nil {
		h.writeServiceError(w, r, "create_prescription", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapPrescription(p))
}

// GetPrescription — GET .../prescriptions/{prescriptionID}.
func (h *APIHandler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	c := chainFromRequest(r)
	p, err := h.svc.Prescriptions.Get(r.Context(), c.appointmentID, c.diagnosisID, c.treatmentID, c.prescriptionID)
	if err != nil {
		h.writeServiceError(w, r, "get_prescription", err)
		return
	}
	writeJSON(w, http.StatusOK, mapPrescription(p))
}

// UpdatePrescription — PUT .../prescriptions/{prescriptionID}.
func (h *APIHandler) UpdatePrescription(w http.ResponseWriter, r *http.Request) {
	var req prescriptionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := chainFromRequest(r)

	p, err := h.svc.Prescriptions.Update(r.Context(), middleware.PrincipalFromContext(r.Context()),
		c.appointmentID, c.diagnosisID, c.treatmentID, c.prescriptionID, req.input())
	if err != nil {
		h.writeServiceError(w, r, "update_prescription", err)
		return
	}
	writeJSON(w, http.StatusOK, mapPrescription(p))
}

// DeletePrescription — DELETE .../prescriptions/{prescriptionID}.
func (h *APIHandler) DeletePrescription(w http.ResponseWriter, r *http.Request) {
	c := chainFromRequest(r)
	err := h.svc.Prescriptions.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()),
		c.appointmentID, c.diagnosisID, c.treatmentID, c.prescriptionID)
	if err != nil {
		h.writeServiceError(w, r, "delete_prescription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Больничные листы ---

func (req sickLeaveRequest) input() service.SickLeaveInput {
	return service.SickLeaveInput{
		Reason:       req.Reason,
		StartDate:    req.StartDate.Time,
		DurationDays: req.DurationDays,
	}
}

// CreateSickLeave — POST /api/v1/appointments/{appointmentID}/sick-leaves.
func (h *APIHandler) CreateSickLeave(w http.ResponseWriter, r *http.Request) {
	var req sickLeaveRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := chainFromRequest(r)

	s, err := h.svc.SickLeaves.Create(r.Context(), middleware.PrincipalFromContext(r.Context()), c.appointmentID, req.input())
	if err != nil {
		h.writeServiceError(w, r, "create_sick_leave", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapSickLeave(s))
}

// GetSickLeave — GET .../sick-leaves/{sickLeaveID}.
func (h *APIHandler) GetSickLeave(w http.ResponseWriter, r *http.Request) {
	c := chainFromRequest(r)
	s, err := h.svc.SickLeaves.Get(r.Context(), c.appointmentID, c.sickLeaveID)
	if err != nil {
		h.writeServiceError(w, r, "get_sick_leave", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSickLeave(s))
}

// UpdateSickLeave — PUT .../sick-leaves/{sickLeaveID}.
func (h *APIHandler) UpdateSickLeave(w http.ResponseWriter, r *http.Request) {
	var req sickLeaveRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c := chainFromRequest(r)

	s, err := h.svc.SickLeaves.Update(r.Context(), middleware.PrincipalFromContext(r.Context()),
		c.appointmentID, c.sickLeaveID, req.input())
	if err != nil {
		h.writeServiceError(w, r, "update_sick_leave", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSickLeave(s))
}

// DeleteSickLeave — DELETE .../sick-leaves/{sickLeaveID}.
func (h *APIHandler) DeleteSickLeave(w http.ResponseWriter, r *http.Request) {
	c := chainFromRequest(r)
	err := h.svc.SickLeaves.Delete(r.Context(), middleware.PrincipalFromContext(r.Context()), c.appointmentID, c.sickLeaveID)
	if err != nil {
		h.writeServiceError(w, r, "delete_sick_leave", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
