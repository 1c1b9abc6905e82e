// admin_users.go — обработчики /api/v1/admin/users endpoints.
// Управление пользователями IdP: список, получение, создание, изменение
// данных и роли, подтверждение email, удаление.
// Доступ ко всем маршрутам ограничен ролью admin (RequireRole в Routes).
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/simeonov123/MedicalRecords-sub000/internal/api/errors"
	"github.com/simeonov123/MedicalRecords-sub000/internal/api/middleware"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// ListAdminUsers — GET /api/v1/admin/users?search=&limit=&offset=.
func (h *APIHandler) ListAdminUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limitParam, ok := queryInt(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offsetParam, ok := queryInt(w, q.Get("offset"), "offset")
	if !ok {
		return
	}
	limit, offset := paginationDefaults(limitParam, offsetParam)

	users, total, err := h.svc.AdminUsers.ListUsers(r.Context(), q.Get("search"), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, "list_users", err)
		return
	}

	items := make([]adminUserResponse, len(users))
	for i, u := range users {
		items[i] = mapAdminUser(u)
	}

	writeJSON(w, http.StatusOK, adminUserListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// GetAdminUser — GET /api/v1/admin/users/{userID}.
func (h *APIHandler) GetAdminUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.AdminUsers.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, "get_user", err)
		return
	}
	writeJSON(w, http.StatusOK, mapAdminUser(user))
}

// CreateAdminUser — POST /api/v1/admin/users.
// Создаёт пользователя в IdP, назначает роль и приводит локальное состояние к ней.
func (h *APIHandler) CreateAdminUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.AdminUsers.CreateUser(r.Context(), middleware.PrincipalFromContext(r.Context()), model.CreateUserInput{
		Username:  req.Username,
		Email:     string(req.Email),
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		h.writeServiceError(w, r, "create_user", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapAdminUser(user))
}

// UpdateAdminUser — PUT /api/v1/admin/users/{userID}.
// Частичное изменение email, имени и фамилии.
func (h *APIHandler) UpdateAdminUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	details := model.UserDetails{FirstName: req.FirstName, LastName: req.LastName}
	if req.Email != nil {
		email := string(*req.Email)
		details.Email = &email
	}

	user, err := h.svc.AdminUsers.UpdateUserDetails(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "userID"), details)
	if err != nil {
		h.writeServiceError(w, r, "update_user", err)
		return
	}
	writeJSON(w, http.StatusOK, mapAdminUser(user))
}

// DeleteAdminUser — DELETE /api/v1/admin/users/{userID}.
func (h *APIHandler) DeleteAdminUser(w http.ResponseWriter, r *http.Request) {
	err := h.svc.AdminUsers.DeleteUser(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, "delete_user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeUserRole — PUT /api/v1/admin/users/{userID}/role.
func (h *APIHandler) ChangeUserRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.AdminUsers.ChangeRole(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		h.writeServiceError(w, r, "change_role", err)
		return
	}
	writeJSON(w, http.StatusOK, mapAdminUser(user))
}

// SetEmailVerified — PUT /api/v1/admin/users/{userID}/email-verified.
func (h *APIHandler) SetEmailVerified(w http.ResponseWriter, r *http.Request) {
	var req emailVerifiedRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.AdminUsers.SetEmailVerified(r.Context(), chi.URLParam(r, "userID"), *req.Verified)
	if err != nil {
		h.writeServiceError(w, r, "set_email_verified", err)
		return
	}
	writeJSON(w, http.StatusOK, mapAdminUser(user))
}

// queryInt разбирает необязательный целочисленный query-параметр.
// Пустое значение — nil. При ошибке ответ 400 уже записан.
func queryInt(w http.ResponseWriter, raw, name string) (*int, bool) {
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		apierrors.ValidationError(w, name+": ожидается целое число")
		return nil, false
	}
	return &n, true
}
