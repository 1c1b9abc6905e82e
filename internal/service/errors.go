// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/simeonov123/MedicalRecords-sub000/internal/keycloak"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrInvalidRole — некорректная роль.
	ErrInvalidRole = errors.New("некорректная роль: допустимые значения — admin, doctor, patient, user")
	// ErrIDPUnavailable — Identity Provider (Keycloak) недоступен.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")

	// ErrAppointmentNotFound — приём не существует.
	ErrAppointmentNotFound = errors.New("приём не найден")
	// ErrProfileNotFound — у идентичности нет профиля нужного типа.
	ErrProfileNotFound = errors.New("профиль не найден")
	// ErrUnauthenticated — субъект запроса не установлен.
	ErrUnauthenticated = errors.New("субъект запроса не аутентифицирован")
	// ErrForbidden — роль субъекта не допускает операцию.
	ErrForbidden = errors.New("операция запрещена для роли")
	// ErrDoctorNotAssigned — врач не назначен на приём.
	ErrDoctorNotAssigned = errors.New("врач не назначен на приём")
	// ErrIdentityReferenced — на идентичность ссылаются приёмы, удалять нельзя.
	ErrIdentityReferenced = errors.New("на идентичность ссылаются приёмы")
	// ErrReconciliation — локальное состояние не удалось привести к роли IdP.
	ErrReconciliation = errors.New("ошибка согласования роли")
)

// DoctorNotAssignedError — врач пытается изменить чужой приём
// (или у врача нет профиля).
type DoctorNotAssignedError struct {
	AppointmentID string
	IdentityID    string
}

func (e *DoctorNotAssignedError) Error() string {
	return fmt.Sprintf("врач %s не назначен на приём %s", e.IdentityID, e.AppointmentID)
}

// Is позволяет сравнивать с ErrDoctorNotAssigned через errors.Is.
func (e *DoctorNotAssignedError) Is(target error) bool {
	return target == ErrDoctorNotAssigned
}

// ReconciliationError — смена роли не применена локально.
// Транзакция откатана, локальное состояние не изменилось.
type ReconciliationError struct {
	IdentityID string
	Cause      error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("согласование роли идентичности %s: %v", e.IdentityID, e.Cause)
}

// Unwrap возвращает причину.
func (e *ReconciliationError) Unwrap() error {
	return e.Cause
}

// Is позволяет сравнивать с ErrReconciliation через errors.Is.
func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliation
}

// idpError приводит ошибки клиента Keycloak к ошибкам сервисного слоя.
// Исходная ошибка сохраняется в цепочке.
func idpError(op string, err error) error {
	switch {
	case errors.Is(err, keycloak.ErrIdpUnavailable), errors.Is(err, keycloak.ErrIdpAuthFailure):
		return fmt.Errorf("%s: %w: %w", op, ErrIDPUnavailable, err)
	case keycloak.IsNotFound(err):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case keycloak.IsConflict(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// storeError приводит ошибки репозиториев к ошибкам сервисного слоя.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case errors.Is(err, repository.ErrReferenced):
		return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
