// clinical.go — общая часть сервисов клинических записей.
//
// Изменение любого узла дерева Appointment → {Diagnosis, SickLeave} →
// Treatment → Prescription выполняется в одной транзакции:
//  1. Приём из пути запроса читается с блокировкой строки
//  2. Цепочка предков проверяется по уже загруженным строкам
//     (parent id каждого узла должен совпасть с id из пути)
//  3. Авторизация по загруженному приёму
//  4. Изменение
//  5. updated_at приёма
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// clinicalBase — зависимости, общие для сервисов клинических записей.
type clinicalBase struct {
	tx     repository.Transactor
	authz  *ClinicalAuthorizer
	logger *slog.Logger
	now    func() time.Time
}

func newClinicalBase(tx repository.Transactor, authz *ClinicalAuthorizer, logger *slog.Logger, component string) clinicalBase {
	return clinicalBase{
		tx:     tx,
		authz:  authz,
		logger: logger.With(slog.String("component", component)),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// mutate выполняет изменение под приёмом appointmentID.
// resolve проверяет цепочку предков (может быть nil), apply выполняет запись.
func (c *clinicalBase) mutate(
	ctx context.Context,
	p model.Principal,
	appointmentID string,
	resolve func(s *repository.Store) error,
	apply func(s *repository.Store, appt *model.Appointment, now time.Time) error,
) error {
	return c.tx.InTx(ctx, func(s *repository.Store) error {
		appt, err := loadAppointment(ctx, s, appointmentID, true)
		if err != nil {
			return err
		}
		if resolve != nil {
			if err := resolve(s); err != nil {
				return err
			}
		}
		if err := c.authz.Authorize(ctx, s, p, appt); err != nil {
			return err
		}

		now := c.now()
		if err := apply(s, appt, now); err != nil {
			return err
		}
		if err := s.Appointments.Touch(ctx, appt.ID, now); err != nil {
			return fmt.Errorf("обновление updated_at приёма: %w", err)
		}
		return nil
	})
}

// read выполняет чтение под приёмом appointmentID. Чтение не авторизуется
// по назначению врача.
func (c *clinicalBase) read(ctx context.Context, appointmentID string, fn func(s *repository.Store) error) error {
	return c.tx.InTx(ctx, func(s *repository.Store) error {
		if _, err := loadAppointment(ctx, s, appointmentID, false); err != nil {
			return err
		}
		return fn(s)
	})
}

// --- разрешение цепочки предков ---

func resolveDiagnosis(ctx context.Context, s *repository.Store, appointmentID, diagnosisID string) (*model.Diagnosis, error) {
	d, err := s.Diagnoses.GetByID(ctx, diagnosisID)
	if err != nil {
		return nil, nodeError("диагноз", diagnosisID, err)
	}
	if d.AppointmentID != appointmentID {
		return nil, fmt.Errorf("диагноз %s приёма %s: %w", diagnosisID, appointmentID, ErrNotFound)
	}
	return d, nil
}

func resolveSickLeave(ctx context.Context, s *repository.Store, appointmentID, sickLeaveID string) (*model.SickLeave, error) {
	sl, err := s.SickLeaves.GetByID(ctx, sickLeaveID)
	if err != nil {
		return nil, nodeError("больничный", sickLeaveID, err)
	}
	if sl.AppointmentID != appointmentID {
		return nil, fmt.Errorf("больничный %s приёма %s: %w", sickLeaveID, appointmentID, ErrNotFound)
	}
	return sl, nil
}

func resolveTreatment(ctx context.Context, s *repository.Store, appointmentID, diagnosisID, treatmentID string) (*model.Treatment, error) {
	if _, err := resolveDiagnosis(ctx, s, appointmentID, diagnosisID); err != nil {
		return nil, err
	}
	t, err := s.Treatments.GetByID(ctx, treatmentID)
	if err != nil {
		return nil, nodeError("лечение", treatmentID, err)
	}
	if t.DiagnosisID != diagnosisID {
		return nil, fmt.Errorf("лечение %s диагноза %s: %w", treatmentID, diagnosisID, ErrNotFound)
	}
	return t, nil
}

func resolvePrescription(ctx context.Context, s *repository.Store, appointmentID, diagnosisID, treatmentID, prescriptionID string) (*model.Prescription, error) {
	if _, err := resolveTreatment(ctx, s, appointmentID, diagnosisID, treatmentID); err != nil {
		return nil, err
	}
	p, err := s.Prescriptions.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, nodeError("назначение", prescriptionID, err)
	}
	if p.TreatmentID != treatmentID {
		return nil, fmt.Errorf("назначение %s лечения %s: %w", prescriptionID, treatmentID, ErrNotFound)
	}
	return p, nil
}

func nodeError(kind, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("получение записи %s: %w", kind, err)
}

// --- каскадное удаление ---

// deleteTreatmentTree удаляет назначения лечения и само лечение.
func deleteTreatmentTree(ctx context.Context, s *repository.Store, treatmentID string) error {
	if _, err := s.Prescriptions.DeleteByTreatment(ctx, treatmentID); err != nil {
		return fmt.Errorf("удаление назначений лечения: %w", err)
	}
	if err := s.Treatments.Delete(ctx, treatmentID); err != nil {
		return storeError("удаление лечения", err)
	}
	return nil
}

// deleteDiagnosisTree удаляет лечения диагноза (с назначениями) и сам диагноз.
func deleteDiagnosisTree(ctx context.Context, s *repository.Store, diagnosisID string) error {
	treatments, err := s.Treatments.ListByDiagnosis(ctx, diagnosisID)
	if err != nil {
		return fmt.Errorf("получение лечений диагноза: %w", err)
	}
	for _, t := range treatments {
		if _, err := s.Prescriptions.DeleteByTreatment(ctx, t.ID); err != nil {
			return fmt.Errorf("удаление назначений лечения: %w", err)
		}
	}
	if _, err := s.Treatments.DeleteByDiagnosis(ctx, diagnosisID); err != nil {
		return fmt.Errorf("удаление лечений диагноза: %w", err)
	}
	if err := s.Diagnoses.Delete(ctx, diagnosisID); err != nil {
		return storeError("удаление диагноза", err)
	}
	return nil
}

// deleteAppointmentTree удаляет всё клиническое дерево приёма и сам приём.
func deleteAppointmentTree(ctx context.Context, s *repository.Store, appointmentID string) error {
	diagnoses, err := s.Diagnoses.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("получение диагнозов приёма: %w", err)
	}
	for _, d := range diagnoses {
		if err := deleteDiagnosisTree(ctx, s, d.ID); err != nil {
			return err
		}
	}
	if _, err := s.SickLeaves.DeleteByAppointment(ctx, appointmentID); err != nil {
		return fmt.Errorf("удаление больничных приёма: %w", err)
	}
	if err := s.Appointments.Delete(ctx, appointmentID); err != nil {
		return storeError("удаление приёма", err)
	}
	return nil
}

// validationError — ошибка валидации с описанием поля.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
