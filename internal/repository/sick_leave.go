package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// SickLeaveRepository — интерфейс для таблицы sick_leaves.
type SickLeaveRepository interface {
	Create(ctx context.Context, s *model.SickLeave) error
	GetByID(ctx context.Context, id string) (*model.SickLeave, error)
	Update(ctx context.Context, s *model.SickLeave) error
	Delete(ctx context.Context, id string) error
	ListByAppointment(ctx context.Context, appointmentID string) ([]*model.SickLeave, error)
	// DeleteByAppointment удаляет все больничные приёма.
	DeleteByAppointment(ctx context.Context, appointmentID string) (int64, error)
}

type sickLeaveRepo struct {
	db DBTX
}

// NewSickLeaveRepository создаёт репозиторий больничных листов.
func NewSickLeaveRepository(db DBTX) SickLeaveRepository {
	return &sickLeaveRepo{db: db}
}

const sickLeaveColumns = `id, appointment_id, reason, start_date, duration_days, created_at, updated_at`

func scanSickLeave(row pgx.Row) (*model.SickLeave, error) {
	s := &model.SickLeave{}
	if err := row.Scan(&s.ID, &s.AppointmentID, &s.Reason, &s.StartDate, &s.DurationDays, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sickLeaveRepo) Create(ctx context.Context, s *model.SickLeave) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sick_leaves (id, appointment_id, reason, start_date, duration_days)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, s.ID, s.AppointmentID, s.Reason, s.StartDate, s.DurationDays).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return mapWriteError("создания больничного", err)
	}
	return nil
}

func (r *sickLeaveRepo) GetByID(ctx context.Context, id string) (*model.SickLeave, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM sick_leaves WHERE id = $1`, sickLeaveColumns)

	s, err := scanSickLeave(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения больничного: %w", err)
	}
	return s, nil
}

func (r *sickLeaveRepo) Update(ctx context.Context, s *model.SickLeave) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sick_leaves SET reason = $2, start_date = $3, duration_days = $4, updated_at = $5
		WHERE id = $1`,
		s.ID, s.Reason, s.StartDate, s.DurationDays, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления больничного: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sickLeaveRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM sick_leaves WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления больничного: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sickLeaveRepo) ListByAppointment(ctx context.Context, appointmentID string) ([]*model.SickLeave, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sick_leaves
		WHERE appointment_id = $1
		ORDER BY start_date, id`, sickLeaveColumns)

	rows, err := r.db.Query(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения больничных приёма: %w", err)
	}
	defer rows.Close()

	var result []*model.SickLeave
	for rows.Next() {
		s, err := scanSickLeave(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования больничного: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *sickLeaveRepo) DeleteByAppointment(ctx context.Context, appointmentID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sick_leaves WHERE appointment_id = $1`, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления больничных приёма: %w", err)
	}
	return tag.RowsAffected(), nil
}
