// medications.go — справочник медикаментов.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CreateMedication — POST /api/v1/medications.
// Доступ: admin.
func (h *APIHandler) CreateMedication(w http.ResponseWriter, r *http.Request) {
	var req medicationRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	m, err := h.svc.Medications.Create(r.Context(), req.Name, req.DosageForm)
	if err != nil {
		h.writeServiceError(w, r, "create_medication", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapMedication(m))
}

// GetMedication — GET /api/v1/medications/{medicationID}.
func (h *APIHandler) GetMedication(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Medications.Get(r.Context(), chi.URLParam(r, "medicationID"))
	if err != nil {
		h.writeServiceError(w, r, "get_medication", err)
		return
	}
	writeJSON(w, http.StatusOK, mapMedication(m))
}
