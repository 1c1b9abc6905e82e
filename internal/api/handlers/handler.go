// handler.go — основной обработчик HTTP API Medical Records.
// Объединяет доменные обработчики, регистрирует маршруты chi
// и делегирует запросы в сервисный слой.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	apierrors "github.com/simeonov123/MedicalRecords-sub000/internal/api/errors"
	"github.com/simeonov123/MedicalRecords-sub000/internal/api/middleware"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/service"
)

// Services — сервисы, которые использует API.
type Services struct {
	AdminUsers    *service.AdminUserService
	IDP           *service.IDPService
	Profiles      *service.ProfileService
	Appointments  *service.AppointmentService
	Diagnoses     *service.DiagnosisService
	SickLeaves    *service.SickLeaveService
	Treatments    *service.TreatmentService
	Prescriptions *service.PrescriptionService
	Medications   *service.MedicationService
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	svc      Services
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(svc Services, logger *slog.Logger) *APIHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В сообщениях об ошибках — имена полей из JSON
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &APIHandler{
		svc:      svc,
		validate: v,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует маршруты /api/v1. Вызывается внутри группы
// с JWT middleware: каждый обработчик получает Principal из контекста.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/me", h.GetCurrentUser)

	r.Route("/admin/users", func(r chi.Router) {
		r.Use(middleware.RequireRole(rbac.RoleAdmin))
		r.Get("/", h.ListAdminUsers)
		r.Post("/", h.CreateAdminUser)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", h.GetAdminUser)
			r.Put("/", h.UpdateAdminUser)
			r.Delete("/", h.DeleteAdminUser)
			r.Put("/role", h.ChangeUserRole)
			r.Put("/email-verified", h.SetEmailVerified)
		})
	})

	r.Route("/idp", func(r chi.Router) {
		r.Use(middleware.RequireRole(rbac.RoleAdmin))
		r.Get("/status", h.GetIdpStatus)
		r.Post("/sync-users", h.SyncUsers)
	})

	r.Get("/doctors/{identityID}", h.GetDoctor)
	r.Put("/doctors/{identityID}", h.UpdateDoctor)
	r.Get("/patients/{identityID}", h.GetPatient)
	r.Put("/patients/{identityID}", h.UpdatePatient)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.CreateAppointment)
		r.Route("/{appointmentID}", func(r chi.Router) {
			r.Get("/", h.GetAppointment)
			r.Put("/", h.UpdateAppointment)
			r.Delete("/", h.DeleteAppointment)
			r.Get("/record", h.GetAppointmentRecord)

			r.Post("/diagnoses", h.CreateDiagnosis)
			r.Route("/diagnoses/{diagnosisID}", func(r chi.Router) {
				r.Get("/", h.GetDiagnosis)
				r.Put("/", h.UpdateDiagnosis)
				r.Delete("/", h.DeleteDiagnosis)

				r.Post("/treatments", h.CreateTreatment)
				r.Route("/treatments/{treatmentID}", func(r chi.Router) {
					r.Get("/", h.GetTreatment)
					r.Put("/", h.UpdateTreatment)
					r.Delete("/", h.DeleteTreatment)

					r.Post("/prescriptions", h.CreatePrescription)
					r.Get("/prescriptions/{prescriptionID}", h.GetPrescription)
					r.Put("/prescriptions/{prescriptionID}", h.UpdatePrescription)
					r.Delete("/prescriptions/{prescriptionID}", h.DeletePrescription)
				})
			})

			r.Post("/sick-leaves", h.CreateSickLeave)
			r.Get("/sick-leaves/{sickLeaveID}", h.GetSickLeave)
			r.Put("/sick-leaves/{sickLeaveID}", h.UpdateSickLeave)
			r.Delete("/sick-leaves/{sickLeaveID}", h.DeleteSickLeave)
		})
	})

	r.With(middleware.RequireRole(rbac.RoleAdmin)).Post("/medications", h.CreateMedication)
	r.Get("/medications/{medicationID}", h.GetMedication)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst и проверяет теги validate.
// При ошибке ответ 400 уже записан, возвращается false.
func (h *APIHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		apierrors.ValidationError(w, validationMessage(err))
		return false
	}
	return true
}

// validationMessage форматирует ошибки validator в одну строку.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: обязательное поле", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: допустимые значения %s", fe.Field(), strings.Join(strings.Fields(fe.Param()), ", ")))
		case "gt", "gte", "min":
			msgs = append(msgs, fmt.Sprintf("%s: значение должно быть не меньше %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: некорректное значение (%s)", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Единственное место соответствия ошибок и статус-кодов.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		apierrors.Unauthorized(w, err.Error())
	case errors.Is(err, service.ErrDoctorNotAssigned):
		apierrors.DoctorNotAssigned(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrIDPUnavailable):
		h.logger.Warn("Identity Provider недоступен",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.IDPUnavailable(w, "Identity Provider недоступен")
	case errors.Is(err, service.ErrIdentityReferenced), errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrAppointmentNotFound),
		errors.Is(err, service.ErrProfileNotFound),
		errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidRole):
		apierrors.ValidationError(w, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// paginationDefaults нормализует параметры пагинации.
func paginationDefaults(limit, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}
