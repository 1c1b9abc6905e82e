package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// DiagnosisRepository — интерфейс для таблицы diagnoses.
type DiagnosisRepository interface {
	Create(ctx context.Context, d *model.Diagnosis) error
	GetByID(ctx context.Context, id string) (*model.Diagnosis, error)
	Update(ctx context.Context, d *model.Diagnosis) error
	// Delete удаляет диагноз. ErrReferenced, если у него остались лечения.
	Delete(ctx context.Context, id string) error
	ListByAppointment(ctx context.Context, appointmentID string) ([]*model.Diagnosis, error)
}

type diagnosisRepo struct {
	db DBTX
}

// NewDiagnosisRepository создаёт репозиторий диагнозов.
func NewDiagnosisRepository(db DBTX) DiagnosisRepository {
	return &diagnosisRepo{db: db}
}

const diagnosisColumns = `id, appointment_id, statement, diagnosed_at, created_at, updated_at`

func scanDiagnosis(row pgx.Row) (*model.Diagnosis, error) {
	d := &model.Diagnosis{}
	if err := row.Scan(&d.ID, &d.AppointmentID, &d.Statement, &d.DiagnosedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *diagnosisRepo) Create(ctx context.Context, d *model.Diagnosis) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	query := `
		INSERT INTO diagnoses (id, appointment_id, statement, diagnosed_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, d.ID, d.AppointmentID, d.Statement, d.DiagnosedAt).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return mapWriteError("создания диагноза", err)
	}
	return nil
}

func (r *diagnosisRepo) GetByID(ctx context.Context, id string) (*model.Diagnosis, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM diagnoses WHERE id = $1`, diagnosisColumns)

	d, err := scanDiagnosis(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения диагноза: %w", err)
	}
	return d, nil
}

func (r *diagnosisRepo) Update(ctx context.Context, d *model.Diagnosis) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE diagnoses SET statement = $2, diagnosed_at = $3, updated_at = $4 WHERE id = $1`,
		d.ID, d.Statement, d.DiagnosedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления диагноза: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *diagnosisRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM diagnoses WHERE id = $1`, id)
	if err != nil {
		return mapWriteError("удаления диагноза", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *diagnosisRepo) ListByAppointment(ctx context.Context, appointmentID string) ([]*model.Diagnosis, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM diagnoses
		WHERE appointment_id = $1
		ORDER BY diagnosed_at, id`, diagnosisColumns)

	rows, err := r.db.Query(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения диагнозов приёма: %w", err)
	}
	defer rows.Close()

	var result []*model.Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования диагноза: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
