// me.go — обработчик GET /api/v1/me.
// Первый вход: создаёт локальную идентичность (и профиль по роли) из токена.
package handlers

import (
	"net/http"

	"github.com/simeonov123/MedicalRecords-sub000/internal/api/middleware"
)

// GetCurrentUser — GET /api/v1/me.
// Возвращает идентичность текущего пользователя вместе с профилем.
// Доступ: любой аутентифицированный пользователь.
func (h *APIHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	overview, err := h.svc.Profiles.EnsureIdentity(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, "ensure_identity", err)
		return
	}

	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}

	writeJSON(w, http.StatusOK, meResponse{
		Identity: mapIdentity(overview.Identity),
		Roles:    roles,
		Doctor:   mapDoctor(overview.Doctor),
		Patient:  mapPatient(overview.Patient),
	})
}
