// appointments.go — бизнес-логика приёмов.
// Приём — корень клинического дерева. Создание:
//   - врач создаёт приём на себя (doctor_id по умолчанию — сам врач);
//   - пациент записывается только сам, врач указывается явно;
//   - администратор указывает обоих.
//
// Оба участника должны иметь профили соответствующих ролей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// AppointmentInput — параметры создания приёма.
type AppointmentInput struct {
	PatientID   string
	DoctorID    string
	ScheduledAt time.Time
}

// AppointmentUpdate — частичное изменение приёма. nil — не менять.
type AppointmentUpdate struct {
	PatientID   *string
	DoctorID    *string
	ScheduledAt *time.Time
}

// AppointmentService — бизнес-логика приёмов.
type AppointmentService struct {
	clinicalBase
}

// NewAppointmentService создаёт сервис приёмов.
func NewAppointmentService(tx repository.Transactor, authz *ClinicalAuthorizer, logger *slog.Logger) *AppointmentService {
	return &AppointmentService{clinicalBase: newClinicalBase(tx, authz, logger, "appointment_service")}
}

// Create создаёт приём от имени субъекта p.
func (s *AppointmentService) Create(ctx context.Context, p model.Principal, in AppointmentInput) (*model.Appointment, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}

	switch p.Role {
	case rbac.RoleAdmin:
		if in.DoctorID == "" || in.PatientID == "" {
			return nil, validationError("doctor_id и patient_id обязательны")
		}
	case rbac.RoleDoctor:
		if in.DoctorID == "" {
			in.DoctorID = p.IdentityID
		}
		if in.DoctorID != p.IdentityID {
			return nil, fmt.Errorf("%w: врач создаёт приёмы только на себя", ErrForbidden)
		}
		if in.PatientID == "" {
			return nil, validationError("patient_id обязателен")
		}
	case rbac.RolePatient:
		if in.PatientID == "" {
			in.PatientID = p.IdentityID
		}
		if in.PatientID != p.IdentityID {
			return nil, fmt.Errorf("%w: пациент записывается только сам", ErrForbidden)
		}
		if in.DoctorID == "" {
			return nil, validationError("doctor_id обязателен")
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, p.Role)
	}

	if in.ScheduledAt.IsZero() {
		return nil, validationError("scheduled_at обязателен")
	}
	if in.DoctorID == in.PatientID {
		return nil, validationError("врач и пациент приёма должны различаться")
	}

	appt := &model.Appointment{
		PatientID:   in.PatientID,
		DoctorID:    in.DoctorID,
		ScheduledAt: in.ScheduledAt.UTC(),
	}

	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		if err := requireDoctor(ctx, st, appt.DoctorID); err != nil {
			return err
		}
		if err := requirePatient(ctx, st, appt.PatientID); err != nil {
			return err
		}
		if err := st.Appointments.Create(ctx, appt); err != nil {
			return storeError("создание приёма", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Приём создан",
		slog.String("appointment_id", appt.ID),
		slog.String("doctor_id", appt.DoctorID),
		slog.String("patient_id", appt.PatientID),
		slog.String("actor_id", p.IdentityID),
	)
	return appt, nil
}

// Get возвращает приём по ID.
func (s *AppointmentService) Get(ctx context.Context, id string) (*model.Appointment, error) {
	var appt *model.Appointment
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		var err error
		appt, err = loadAppointment(ctx, st, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// GetRecord возвращает приём со всем клиническим деревом.
func (s *AppointmentService) GetRecord(ctx context.Context, id string) (*model.AppointmentRecord, error) {
	rec := &model.AppointmentRecord{}
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		appt, err := loadAppointment(ctx, st, id, false)
		if err != nil {
			return err
		}
		rec.Appointment = appt

		diagnoses, err := st.Diagnoses.ListByAppointment(ctx, id)
		if err != nil {
			return fmt.Errorf("получение диагнозов: %w", err)
		}
		for _, d := range diagnoses {
			dr := model.DiagnosisRecord{Diagnosis: d}
			treatments, err := st.Treatments.ListByDiagnosis(ctx, d.ID)
			if err != nil {
				return fmt.Errorf("получение лечений: %w", err)
			}
			for _, t := range treatments {
				prescriptions, err := st.Prescriptions.ListByTreatment(ctx, t.ID)
				if err != nil {
					return fmt.Errorf("получение назначений: %w", err)
				}
				dr.Treatments = append(dr.Treatments, model.TreatmentRecord{Treatment: t, Prescriptions: prescriptions})
			}
			rec.Diagnoses = append(rec.Diagnoses, dr)
		}

		rec.SickLeaves, err = st.SickLeaves.ListByAppointment(ctx, id)
		if err != nil {
			return fmt.Errorf("получение больничных: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update изменяет участников или время приёма.
// Участников меняет только администратор, назначенный врач — только время.
func (s *AppointmentService) Update(ctx context.Context, p model.Principal, id string, upd AppointmentUpdate) (*model.Appointment, error) {
	var result *model.Appointment
	err := s.mutate(ctx, p, id, nil, func(st *repository.Store, appt *model.Appointment, now time.Time) error {
		if upd.DoctorID != nil && *upd.DoctorID != appt.DoctorID {
			if p.Role != rbac.RoleAdmin {
				return fmt.Errorf("%w: сменить врача может только администратор", ErrForbidden)
			}
			if err := requireDoctor(ctx, st, *upd.DoctorID); err != nil {
				return err
			}
			appt.DoctorID = *upd.DoctorID
		}
		if upd.PatientID != nil && *upd.PatientID != appt.PatientID {
			if p.Role != rbac.RoleAdmin {
				return fmt.Errorf("%w: сменить пациента может только администратор", ErrForbidden)
			}
			if err := requirePatient(ctx, st, *upd.PatientID); err != nil {
				return err
			}
			appt.PatientID = *upd.PatientID
		}
		if upd.ScheduledAt != nil {
			if upd.ScheduledAt.IsZero() {
				return validationError("scheduled_at не может быть пустым")
			}
			appt.ScheduledAt = upd.ScheduledAt.UTC()
		}
		if appt.DoctorID == appt.PatientID {
			return validationError("врач и пациент приёма должны различаться")
		}

		appt.UpdatedAt = now
		if err := st.Appointments.Update(ctx, appt); err != nil {
			return storeError("обновление приёма", err)
		}
		result = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete удаляет приём вместе со всеми диагнозами, лечениями,
// назначениями и больничными.
func (s *AppointmentService) Delete(ctx context.Context, p model.Principal, id string) error {
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		appt, err := loadAppointment(ctx, st, id, true)
		if err != nil {
			return err
		}
		if err := s.authz.Authorize(ctx, st, p, appt); err != nil {
			return err
		}
		return deleteAppointmentTree(ctx, st, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Приём удалён",
		slog.String("appointment_id", id),
		slog.String("actor_id", p.IdentityID),
	)
	return nil
}

// requireDoctor проверяет, что у идентичности есть профиль врача.
func requireDoctor(ctx context.Context, st *repository.Store, id string) error {
	if _, err := st.Doctors.GetByExternalID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: врач %s", ErrProfileNotFound, id)
		}
		return fmt.Errorf("получение профиля врача: %w", err)
	}
	return nil
}

// requirePatient проверяет, что у идентичности есть профиль пациента.
func requirePatient(ctx context.Context, st *repository.Store, id string) error {
	if _, err := st.Patients.GetByExternalID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: пациент %s", ErrProfileNotFound, id)
		}
		return fmt.Errorf("получение профиля пациента: %w", err)
	}
	return nil
}
