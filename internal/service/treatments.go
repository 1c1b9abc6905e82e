package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// TreatmentInput — данные лечения.
type TreatmentInput struct {
	Description string
	StartDate   time.Time
	// EndDate — nil, если лечение не завершено
	EndDate *time.Time
}

func (in TreatmentInput) validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return validationError("description обязателен")
	}
	if in.StartDate.IsZero() {
		return validationError("start_date обязателен")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return validationError("end_date раньше start_date")
	}
	return nil
}

func (in TreatmentInput) endDate() *time.Time {
	if in.EndDate == nil {
		return nil
	}
	t := in.EndDate.UTC()
	return &t
}

// TreatmentService — лечения диагноза.
type TreatmentService struct {
	clinicalBase
}

// NewTreatmentService создаёт сервис лечений.
func NewTreatmentService(tx repository.Transactor, authz *ClinicalAuthorizer, logger *slog.Logger) *TreatmentService {
	return &TreatmentService{clinicalBase: newClinicalBase(tx, authz, logger, "treatment_service")}
}

// Create назначает лечение по диагнозу.
func (s *TreatmentService) Create(ctx context.Context, p model.Principal, appointmentID, diagnosisID string, in TreatmentInput) (*model.Treatment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	t := &model.Treatment{
		DiagnosisID: diagnosisID,
		Description: strings.TrimSpace(in.Description),
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.endDate(),
	}
	err := s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			_, err := resolveDiagnosis(ctx, st, appointmentID, diagnosisID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, _ time.Time) error {
			return wrapStore("создание лечения", st.Treatments.Create(ctx, t))
		},
	)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Лечение назначено",
		slog.String("appointment_id", appointmentID),
		slog.String("diagnosis_id", diagnosisID),
		slog.String("treatment_id", t.ID),
	)
	return t, nil
}

// Get возвращает лечение, проверяя цепочку приём → диагноз → лечение.
func (s *TreatmentService) Get(ctx context.Context, appointmentID, diagnosisID, treatmentID string) (*model.Treatment, error) {
	var t *model.Treatment
	err := s.read(ctx, appointmentID, func(st *repository.Store) error {
		var err error
		t, err = resolveTreatment(ctx, st, appointmentID, diagnosisID, treatmentID)
		return err
	})
	return t, err
}

// Update изменяет лечение.
func (s *TreatmentService) Update(ctx context.Context, p model.Principal, appointmentID, diagnosisID, treatmentID string, in TreatmentInput) (*model.Treatment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var t *model.Treatment
	err := s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			var err error
			t, err = resolveTreatment(ctx, st, appointmentID, diagnosisID, treatmentID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, now time.Time) error {
			t.Description = strings.TrimSpace(in.Description)
			t.StartDate = in.StartDate.UTC()
			t.EndDate = in.endDate()
			t.UpdatedAt = now
			return wrapStore("обновление лечения", st.Treatments.Update(ctx, t))
		},
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Delete удаляет лечение вместе с назначениями.
func (s *TreatmentService) Delete(ctx context.Context, p model.Principal, appointmentID, diagnosisID, treatmentID string) error {
	return s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			_, err := resolveTreatment(ctx, st, appointmentID, diagnosisID, treatmentID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, _ time.Time) error {
			return deleteTreatmentTree(ctx, st, treatmentID)
		},
	)
}
