// profiles.go — обработчики профилей врачей и пациентов.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/api/middleware"
	"github.com/simeonov123/MedicalRecords-sub000/internal/service"
)

// GetDoctor — GET /api/v1/doctors/{identityID}.
func (h *APIHandler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Profiles.GetDoctor(r.Context(), chi.URLParam(r, "identityID"))
	if err != nil {
		h.writeServiceError(w, r, "get_doctor", err)
		return
	}
	writeJSON(w, http.StatusOK, mapDoctor(d))
}

// UpdateDoctor — PUT /api/v1/doctors/{identityID}.
// Доступ: admin или сам врач.
func (h *APIHandler) UpdateDoctor(w http.ResponseWriter, r *http.Request) {
	var req doctorUpdateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	d, err := h.svc.Profiles.UpdateDoctor(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "identityID"), service.DoctorUpdate{
			Name:        req.Name,
			Specialties: req.Specialties,
			PrimaryCare: req.PrimaryCare,
		})
	if err != nil {
		h.writeServiceError(w, r, "update_doctor", err)
		return
	}
	writeJSON(w, http.StatusOK, mapDoctor(d))
}

// GetPatient — GET /api/v1/patients/{identityID}.
func (h *APIHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Profiles.GetPatient(r.Context(), chi.URLParam(r, "identityID"))
	if err != nil {
		h.writeServiceError(w, r, "get_patient", err)
		return
	}
	writeJSON(w, http.StatusOK, mapPatient(p))
}

// UpdatePatient — PUT /api/v1/patients/{identityID}.
// Страховку меняет admin, лечащего врача — admin или сам пациент.
func (h *APIHandler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientUpdateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	p, err := h.svc.Profiles.UpdatePatient(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "identityID"), service.PatientUpdate{
			InsurancePaid:   req.InsurancePaid,
			PrimaryDoctorID: req.PrimaryDoctorID,
		})
	if err != nil {
		h.writeServiceError(w, r, "update_patient", err)
		return
	}
	writeJSON(w, http.StatusOK, mapPatient(p))
}
