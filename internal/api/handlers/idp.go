// idp.go — обработчики /api/v1/idp endpoints.
// Статус Identity Provider (Keycloak), принудительная синхронизация пользователей.
package handlers

import (
	"net/http"
)

// GetIdpStatus — GET /api/v1/idp/status.
// Доступ: admin.
func (h *APIHandler) GetIdpStatus(w http.ResponseWriter, r *http.Request) {
	status := h.svc.IDP.GetStatus(r.Context())

	writeJSON(w, http.StatusOK, idpStatusResponse{
		Connected:            status.Connected,
		Realm:                status.Realm,
		KeycloakURL:          optString(status.KeycloakURL),
		UsersCount:           status.UsersCount,
		LocalIdentities:      status.LocalIdentities,
		LastUserSyncAt:       status.LastUserSyncAt,
		LastUserSyncFailures: status.LastUserSyncFailures,
		Error:                status.Error,
	})
}

// SyncUsers — POST /api/v1/idp/sync-users.
// Полная синхронизация локальных идентичностей с пользователями Keycloak.
// Ошибки по отдельным пользователям возвращаются в failures, статус 200.
// Доступ: admin.
func (h *APIHandler) SyncUsers(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.IDP.SyncUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "sync_users", err)
		return
	}
	writeJSON(w, http.StatusOK, mapSyncResult(result))
}
