package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// SickLeaveInput — данные больничного листа.
type SickLeaveInput struct {
	Reason       string
	StartDate    time.Time
	DurationDays int
}

func (in SickLeaveInput) validate() error {
	if strings.TrimSpace(in.Reason) == "" {
		return validationError("reason обязателен")
	}
	if in.StartDate.IsZero() {
		return validationError("start_date обязателен")
	}
	if in.DurationDays <= 0 {
		return validationError("duration_days должен быть > 0, получено %d", in.DurationDays)
	}
	return nil
}

// SickLeaveService — больничные листы приёма.
type SickLeaveService struct {
	clinicalBase
}

// NewSickLeaveService создаёт сервис больничных листов.
func NewSickLeaveService(tx repository.Transactor, authz *ClinicalAuthorizer, logger *slog.Logger) *SickLeaveService {
	return &SickLeaveService{clinicalBase: newClinicalBase(tx, authz, logger, "sick_leave_service")}
}

// Create выписывает больничный по приёму.
func (s *SickLeaveService) Create(ctx context.Context, p model.Principal, appointmentID string, in SickLeaveInput) (*model.SickLeave, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	sl := &model.SickLeave{
		AppointmentID: appointmentID,
		Reason:        strings.TrimSpace(in.Reason),
		StartDate:     in.StartDate.UTC(),
		DurationDays:  in.DurationDays,
	}
	err := s.mutate(ctx, p, appointmentID, nil, func(st *repository.Store, _ *model.Appointment, _ time.Time) error {
		return wrapStore("создание больничного", st.SickLeaves.Create(ctx, sl))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Больничный выписан",
		slog.String("appointment_id", appointmentID),
		slog.String("sick_leave_id", sl.ID),
		slog.String("actor_id", p.IdentityID),
	)
	return sl, nil
}

// Get возвращает больничный приёма.
func (s *SickLeaveService) Get(ctx context.Context, appointmentID, sickLeaveID string) (*model.SickLeave, error) {
	var sl *model.SickLeave
	err := s.read(ctx, appointmentID, func(st *repository.Store) error {
		var err error
		sl, err = resolveSickLeave(ctx, st, appointmentID, sickLeaveID)
		return err
	})
	return sl, err
}

// Update изменяет больничный.
func (s *SickLeaveService) Update(ctx context.Context, p model.Principal, appointmentID, sickLeaveID string, in SickLeaveInput) (*model.SickLeave, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var sl *model.SickLeave
	err := s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			var err error
			sl, err = resolveSickLeave(ctx, st, appointmentID, sickLeaveID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, now time.Time) error {
			sl.Reason = strings.TrimSpace(in.Reason)
			sl.StartDate = in.StartDate.UTC()
			sl.DurationDays = in.DurationDays
			sl.UpdatedAt = now
			return wrapStore("обновление больничного", st.SickLeaves.Update(ctx, sl))
		},
	)
	if err != nil {
		return nil, err
	}
	return sl, nil
}

// Delete удаляет больничный.
func (s *SickLeaveService) Delete(ctx context.Context, p model.Principal, appointmentID, sickLeaveID string) error {
	return s.mutate(ctx, p, appointmentID,
		func(st *repository.Store) error {
			_, err := resolveSickLeave(ctx, st, appointmentID, sickLeaveID)
			return err
		},
		func(st *repository.Store, _ *model.Appointment, _ time.Time) error {
			return wrapStore("удаление больничного", st.SickLeaves.Delete(ctx, sickLeaveID))
		},
	)
}
