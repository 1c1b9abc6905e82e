package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// PrescriptionInput — данные назначения.
type PrescriptionInput struct {
	MedicationID string
	Dosage       string
	DurationDays int
}

func (in PrescriptionInput) validate() error {
	if in.MedicationID == "" {
		return validationError("medication_id обязателен")
	}
	if strings.TrimSpace(in.Dosage) == "" {
		return validationError("dosage обязателен")
	}
	if in.DurationDays <= 0 {
		return validationError("duration_days должен быть > 0, получено %d", in.DurationDays)
	}
	return nil
}

// PrescriptionService — назначения лечения.
type PrescriptionService struct {
	clinicalBase
}

// NewPrescriptionService создаёт сервис назначений.
func NewPrescriptionService(tx repository.Transactor, authz *ClinicalAuthorizer, logger *slog.Logger) *PrescriptionService {
	return &PrescriptionService{clinicalBase: newClinicalBase(tx, authz, logger, "prescription_service")}
}

// Create добавляет назначение к лечению.
func (s *PrescriptionService) Create(ctx context.Context, p model.Principal, appointmentID, diagnosisID, treatmentID string, in PrescriptionInput) (*model.Prescription, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	rx := &model.Prescription{
		TreatmentID:  treatmentID,
		MedicationID: in.MedicationID,
		Dosage:       strings.TrimSpace(in.Dosage),
		DurationDays: in.DurationDays,
	}
	err := s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			_, err := resolveTreatment(ctx, st, appointmentID, diagnosisID, treatmentID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, _ time.Time) error {
			if err := requireMedication(ctx, st, rx.MedicationID); err != nil {
				return err
			}
			return wrapStore("создание назначения", st.Prescriptions.Create(ctx, rx))
		},
	)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Назначение добавлено",
		slog.String("appointment_id", appointmentID),
		slog.String("treatment_id", treatmentID),
		slog.String("prescription_id", rx.ID),
	)
	return rx, nil
}

// Get возвращает назначение, проверяя всю цепочку предков.
func (s *PrescriptionService) Get(ctx context.Context, appointmentID, diagnosisID, treatmentID, prescriptionID string) (*model.Prescription, error) {
	var rx *model.Prescription
	err := s.read(ctx, appointmentID, func(st *repository.Store) error {
		var err error
		rx, err = resolvePrescription(ctx, st, appointmentID, diagnosisID, treatmentID, prescriptionID)
		return err
	})
	return rx, err
}

// Update изменяет назначение.
func (s *PrescriptionService) Update(ctx context.Context, p model.Principal, appointmentID, diagnosisID, treatmentID, prescriptionID string, in PrescriptionInput) (*model.Prescription, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var rx *model.Prescription
	err := s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			var err error
			rx, err = resolvePrescription(ctx, st, appointmentID, diagnosisID, treatmentID, prescriptionID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, now time.Time) error {
			if in.MedicationID != rx.MedicationID {
				if err := requireMedication(ctx, st, in.MedicationID); err != nil {
					return err
				}
			}
			rx.MedicationID = in.MedicationID
			rx.Dosage = strings.TrimSpace(in.Dosage)
			rx.DurationDays = in.DurationDays
			rx.UpdatedAt = now
			return wrapStore("обновление назначения", st.Prescriptions.Update(ctx, rx))
		},
	)
	if err != nil {
		return nil, err
	}
	return rx, nil
}

// Delete удаляет назначение.
func (s *PrescriptionService) Delete(ctx context.Context, p model.Principal, appointmentID, diagnosisID, treatmentID, prescriptionID string) error {
	return s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			_, err := resolvePrescription(ctx, st, appointmentID, diagnosisID, treatmentID, prescriptionID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, _ time.Time) error {
			return wrapStore("удаление назначения", st.Prescriptions.Delete(ctx, prescriptionID))
		},
	)
}

// requireMedication проверяет наличие медикамента в справочнике.
func requireMedication(ctx context.Context, st *repository.Store, id string) error {
	if _, err := st.Medications.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return validationError("медикамент %s не найден", id)
		}
		return fmt.Errorf("получение медикамента: %w", err)
	}
	return nil
}

// MedicationService — справочник медикаментов.
type MedicationService struct {
	tx     repository.Transactor
	logger *slog.Logger
}

// NewMedicationService создаёт сервис справочника медикаментов.
func NewMedicationService(tx repository.Transactor, logger *slog.Logger) *MedicationService {
	return &MedicationService{
		tx:     tx,
		logger: logger.With(slog.String("component", "medication_service")),
	}
}

// Create добавляет медикамент в справочник.
func (s *MedicationService) Create(ctx context.Context, name, dosageForm string) (*model.Medication, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name обязателен")
	}

	m := &model.Medication{Name: name, DosageForm: strings.TrimSpace(dosageForm)}
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		return wrapStore("создание медикамента", st.Medications.Create(ctx, m))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Медикамент добавлен", slog.String("medication_id", m.ID), slog.String("name", m.Name))
	return m, nil
}

// Get возвращает медикамент по ID.
func (s *MedicationService) Get(ctx context.Context, id string) (*model.Medication, error) {
	var m *model.Medication
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		var err error
		m, err = st.Medications.GetByID(ctx, id)
		return wrapStore("получение медикамента", err)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
