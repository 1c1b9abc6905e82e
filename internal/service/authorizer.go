// authorizer.go — авторизация изменений клинического дерева.
//
// Любое изменение приёма и его потомков (диагнозы, больничные, лечения,
// назначения) разрешено администратору и врачу, назначенному на корневой приём.
// Пациенту изменения запрещены, неаутентифицированный субъект отклоняется.
//
// Prometheus-метрики:
//   - mr_authz_denials_total{reason} — отказы в авторизации по причине
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

var authzDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mr_authz_denials_total",
	Help: "Количество отказов в изменении клинических записей по причине.",
}, []string{"reason"})

// ClinicalAuthorizer решает, может ли субъект изменять записи приёма.
type ClinicalAuthorizer struct {
	logger *slog.Logger
}

// NewClinicalAuthorizer создаёт авторизатор клинических записей.
func NewClinicalAuthorizer(logger *slog.Logger) *ClinicalAuthorizer {
	return &ClinicalAuthorizer{
		logger: logger.With(slog.String("component", "clinical_authorizer")),
	}
}

// Authorize проверяет право субъекта изменять уже загруженный приём.
// Профиль врача читается через s, т.е. в той же транзакции, что и изменение.
func (a *ClinicalAuthorizer) Authorize(ctx context.Context, s *repository.Store, p model.Principal, appt *model.Appointment) error {
	if !p.Authenticated() {
		authzDenialsTotal.WithLabelValues("unauthenticated").Inc()
		return ErrUnauthenticated
	}

	switch p.Role {
	case rbac.RoleAdmin:
		return nil

	case rbac.RoleDoctor:
		doctor, err := s.Doctors.GetByExternalID(ctx, p.IdentityID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("получение профиля врача: %w", err)
		}
		if doctor != nil && doctor.ExternalID == appt.DoctorID {
			return nil
		}
		authzDenialsTotal.WithLabelValues("doctor_not_assigned").Inc()
		a.logger.Debug("Врач не назначен на приём",
			slog.String("identity_id", p.IdentityID),
			slog.String("appointment_id", appt.ID),
			slog.Bool("has_profile", doctor != nil),
		)
		return &DoctorNotAssignedError{AppointmentID: appt.ID, IdentityID: p.IdentityID}

	default:
		authzDenialsTotal.WithLabelValues("role").Inc()
		return fmt.Errorf("%w: %s", ErrForbidden, p.Role)
	}
}

// AuthorizeAppointment загружает приём по ID и проверяет право субъекта его изменять.
// Отсутствующий приём — ErrAppointmentNotFound, раньше любой проверки субъекта.
func (a *ClinicalAuthorizer) AuthorizeAppointment(ctx context.Context, tx repository.Transactor, p model.Principal, appointmentID string) error {
	return tx.InTx(ctx, func(s *repository.Store) error {
		appt, err := loadAppointment(ctx, s, appointmentID, false)
		if err != nil {
			return err
		}
		return a.Authorize(ctx, s, p, appt)
	})
}

// loadAppointment читает приём; forUpdate блокирует строку до конца транзакции.
func loadAppointment(ctx context.Context, s *repository.Store, id string, forUpdate bool) (*model.Appointment, error) {
	var (
		appt *model.Appointment
		err  error
	)
	if forUpdate {
		appt, err = s.Appointments.GetByIDForUpdate(ctx, id)
	} else {
		appt, err = s.Appointments.GetByID(ctx, id)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
		}
		return nil, fmt.Errorf("получение приёма: %w", err)
	}
	return appt, nil
}
