// role_reconciler.go — применение смены роли к локальному состоянию.
//
// Каждой идентичности соответствует не более одного профиля. Смена роли
// удаляет оба профиля и создаёт профиль новой роли в одной транзакции под
// advisory-блокировкой идентичности, поэтому параллельная авторизация видит
// либо полностью старое, либо полностью новое состояние.
//
// Prometheus-метрики:
//   - mr_role_changes_total{role, result} — применённые смены ролей
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/events"
	"github.com/simeonov123/MedicalRecords-sub000/internal/keycloak"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

var roleChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mr_role_changes_total",
	Help: "Количество применённых смен роли по роли и результату.",
}, []string{"role", "result"})

// RoleReconciler приводит локальную идентичность и профиль к роли из IdP.
type RoleReconciler struct {
	directory IdentityDirectory
	tx        repository.Transactor
	publisher events.Publisher
	logger    *slog.Logger
}

// NewRoleReconciler создаёт сервис смены ролей.
func NewRoleReconciler(
	directory IdentityDirectory,
	tx repository.Transactor,
	publisher events.Publisher,
	logger *slog.Logger,
) *RoleReconciler {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &RoleReconciler{
		directory: directory,
		tx:        tx,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "role_reconciler")),
	}
}

// ApplyRoleChange применяет роль newRole к идентичности identityID.
// Роли doctor и patient получают профиль по умолчанию, остальные роли — без профиля.
// Любая ошибка возвращается как *ReconciliationError, локальные изменения откатываются.
func (r *RoleReconciler) ApplyRoleChange(ctx context.Context, identityID, newRole string) error {
	return r.applyRoleChange(ctx, identityID, newRole, "")
}

func (r *RoleReconciler) applyRoleChange(ctx context.Context, identityID, newRole, actorID string) error {
	newRole = strings.TrimSpace(newRole)
	if identityID == "" {
		return r.fail(identityID, newRole, fmt.Errorf("%w: пустой identity id", ErrValidation))
	}
	if newRole == "" {
		return r.fail(identityID, newRole, ErrInvalidRole)
	}

	// 1. Актуальные данные пользователя из IdP (вне транзакции)
	user, err := r.directory.GetUser(ctx, identityID)
	if err != nil {
		return r.fail(identityID, newRole, idpError("получение пользователя из IdP", err))
	}
	name := rbac.DisplayName(user.FirstName, user.LastName, user.Username)

	// 2-3. Снос и пересоздание профиля одной транзакцией
	var previousRole string
	err = r.tx.InTx(ctx, func(s *repository.Store) error {
		if err := s.Identities.Lock(ctx, identityID); err != nil {
			return err
		}

		current, err := s.Identities.GetByExternalID(ctx, identityID)
		switch {
		case err == nil:
			previousRole = current.Role
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		ident := identityFromUser(user, newRole)
		ident.ExternalID = identityID
		if err := s.Identities.Upsert(ctx, ident); err != nil {
			return err
		}

		if newRole != rbac.RoleDoctor {
			if _, err := s.Patients.ClearPrimaryDoctor(ctx, identityID); err != nil {
				return err
			}
		}
		if _, err := s.Doctors.DeleteByExternalID(ctx, identityID); err != nil {
			return err
		}
		if _, err := s.Patients.DeleteByExternalID(ctx, identityID); err != nil {
			return err
		}

		switch newRole {
		case rbac.RoleDoctor:
			return s.Doctors.Create(ctx, &model.DoctorProfile{
				ExternalID:  identityID,
				Name:        name,
				Specialties: model.DefaultSpecialties,
				PrimaryCare: false,
			})
		case rbac.RolePatient:
			return s.Patients.Create(ctx, &model.PatientProfile{
				ExternalID:    identityID,
				Name:          name,
				InsurancePaid: false,
			})
		}
		return nil
	})
	if err != nil {
		return r.fail(identityID, newRole, err)
	}

	roleChangesTotal.WithLabelValues(roleLabel(newRole), "ok").Inc()
	r.logger.Info("Роль идентичности применена",
		slog.String("identity_id", identityID),
		slog.String("previous_role", previousRole),
		slog.String("role", newRole),
	)

	events.Emit(ctx, r.publisher, r.logger, events.Event{
		Type:         events.TypeRoleChanged,
		IdentityID:   identityID,
		ActorID:      actorID,
		Role:         newRole,
		PreviousRole: previousRole,
		Source:       events.SourceAPI,
	})
	return nil
}

// fail оборачивает причину в ReconciliationError и учитывает её в метриках.
func (r *RoleReconciler) fail(identityID, role string, cause error) error {
	roleChangesTotal.WithLabelValues(roleLabel(role), "error").Inc()
	r.logger.Warn("Ошибка применения роли",
		slog.String("identity_id", identityID),
		slog.String("role", role),
		slog.String("error", cause.Error()),
	)
	return &ReconciliationError{IdentityID: identityID, Cause: cause}
}

// identityFromUser строит локальную идентичность по пользователю IdP.
func identityFromUser(u *keycloak.KeycloakUser, role string) *model.Identity {
	return &model.Identity{
		ExternalID:    u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		DisplayName:   rbac.DisplayName(u.FirstName, u.LastName, u.Username),
		EmailVerified: u.EmailVerified,
		Role:          role,
	}
}

// roleLabel ограничивает кардинальность label роли в метриках.
func roleLabel(role string) string {
	switch role {
	case rbac.RoleAdmin, rbac.RoleDoctor, rbac.RolePatient, rbac.RoleUser:
		return role
	default:
		return "other"
	}
}
