package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// DiagnosisInput — данные диагноза.
type DiagnosisInput struct {
	Statement   string
	DiagnosedAt time.Time
}

func (in DiagnosisInput) validate() error {
	if strings.TrimSpace(in.Statement) == "" {
		return validationError("statement обязателен")
	}
	if in.DiagnosedAt.IsZero() {
		return validationError("diagnosed_at обязателен")
	}
	return nil
}

// DiagnosisService — диагнозы приёма.
type DiagnosisService struct {
	clinicalBase
}

// NewDiagnosisService создаёт сервис диагнозов.
func NewDiagnosisService(tx repository.Transactor, authz *ClinicalAuthorizer, logger *slog.Logger) *DiagnosisService {
	return &DiagnosisService{clinicalBase: newClinicalBase(tx, authz, logger, "diagnosis_service")}
}

// Create добавляет диагноз к приёму.
func (s *DiagnosisService) Create(ctx context.Context, p model.Principal, appointmentID string, in DiagnosisInput) (*model.Diagnosis, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	d := &model.Diagnosis{
		AppointmentID: appointmentID,
		Statement:     strings.TrimSpace(in.Statement),
		DiagnosedAt:   in.DiagnosedAt.UTC(),
	}
	err := s.mutate(ctx, p, appointmentID, nil, func(st *repository.Store, _ *model.Appointment, _ time.Time) error {
		return wrapStore("создание диагноза", st.Diagnoses.Create(ctx, d))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Диагноз добавлен",
		slog.String("appointment_id", appointmentID),
		slog.String("diagnosis_id", d.ID),
		slog.String("actor_id", p.IdentityID),
	)
	return d, nil
}

// Get возвращает диагноз приёма.
func (s *DiagnosisService) Get(ctx context.Context, appointmentID, diagnosisID string) (*model.Diagnosis, error) {
	var d *model.Diagnosis
	err := s.read(ctx, appointmentID, func(st *repository.Store) error {
		var err error
		d, err = resolveDiagnosis(ctx, st, appointmentID, diagnosisID)
		return err
	})
	return d, err
}

// Update изменяет диагноз.
func (s *DiagnosisService) Update(ctx context.Context, p model.Principal, appointmentID, diagnosisID string, in DiagnosisInput) (*model.Diagnosis, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var d *model.Diagnosis
	err := s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			var err error
			d, err = resolveDiagnosis(ctx, st, appointmentID, diagnosisID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, now time.Time) error {
			d.Statement = strings.TrimSpace(in.Statement)
			d.DiagnosedAt = in.DiagnosedAt.UTC()
			d.UpdatedAt = now
			return wrapStore("обновление диагноза", st.Diagnoses.Update(ctx, d))
		},
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Delete удаляет диагноз вместе с лечениями и назначениями.
func (s *DiagnosisService) Delete(ctx context.Context, p model.Principal, appointmentID, diagnosisID string) error {
	err := s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			_, err := resolveDiagnosis(ctx, st, appointmentID, diagnosisID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, _ time.Time) error {
			return deleteDiagnosisTree(ctx, st, diagnosisID)
		},
	)
	if err != nil {
		return err
	}

	s.logger.Info("Диагноз удалён",
		slog.String("appointment_id", appointmentID),
		slog.String("diagnosis_id", diagnosisID),
		slog.String("actor_id", p.IdentityID),
	)
	return nil
}

// wrapStore приводит ошибку репозитория к ошибке сервиса, nil остаётся nil.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return storeError(op, err)
}
