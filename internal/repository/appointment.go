package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// AppointmentRepository — интерфейс для таблицы appointments.
type AppointmentRepository interface {
	Create(ctx context.Context, a *model.Appointment) error
	GetByID(ctx context.Context, id string) (*model.Appointment, error)
	// GetByIDForUpdate возвращает приём с блокировкой строки до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id string) (*model.Appointment, error)
	// Update меняет пациента, врача и время приёма; updated_at берётся из a.UpdatedAt.
	Update(ctx context.Context, a *model.Appointment) error
	// Touch выставляет updated_at приёма.
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	// CountByIdentity возвращает число приёмов, где идентичность — врач или пациент.
	CountByIdentity(ctx context.Context, externalID string) (int, error)
}

type appointmentRepo struct {
	db DBTX
}

// NewAppointmentRepository создаёт репозиторий приёмов.
func NewAppointmentRepository(db DBTX) AppointmentRepository {
	return &appointmentRepo{db: db}
}

const appointmentColumns = `id, patient_id, doctor_id, scheduled_at, created_at, updated_at`

// validID отсекает идентификаторы, которые не могут быть UUID,
// до обращения к PostgreSQL (иначе — ошибка 22P02 вместо «не найдено»).
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *appointmentRepo) Create(ctx context.Context, a *model.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO appointments (id, patient_id, doctor_id, scheduled_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, a.ID, a.PatientID, a.DoctorID, a.ScheduledAt).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapWriteError("создания приёма", err)
	}
	return nil
}

func (r *appointmentRepo) get(ctx context.Context, id, suffix string) (*model.Appointment, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE id = $1 %s`, appointmentColumns, suffix)

	a := &model.Appointment{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения приёма: %w", err)
	}
	return a, nil
}

func (r *appointmentRepo) GetByID(ctx context.Context, id string) (*model.Appointment, error) {
	return r.get(ctx, id, "")
}

func (r *appointmentRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Appointment, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *appointmentRepo) Update(ctx context.Context, a *model.Appointment) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET patient_id = $2, doctor_id = $3, scheduled_at = $4, updated_at = $5
		WHERE id = $1`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledAt, a.UpdatedAt)
	if err != nil {
		return mapWriteError("обновления приёма", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepo) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE appointments SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка обновления updated_at приёма: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return mapWriteError("удаления приёма", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepo) CountByIdentity(ctx context.Context, externalID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE doctor_id = $1 OR patient_id = $1`,
		externalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта приёмов идентичности: %w", err)
	}
	return count, nil
}
