package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// TreatmentRepository — интерфейс для таблицы treatments.
type TreatmentRepository interface {
	Create(ctx context.Context, t *model.Treatment) error
	GetByID(ctx context.Context, id string) (*model.Treatment, error)
	Update(ctx context.Context, t *model.Treatment) error
	// Delete удаляет лечение. ErrReferenced, если у него остались назначения.
	Delete(ctx context.Context, id string) error
	ListByDiagnosis(ctx context.Context, diagnosisID string) ([]*model.Treatment, error)
	// DeleteByDiagnosis удаляет все лечения диагноза.
	DeleteByDiagnosis(ctx context.Context, diagnosisID string) (int64, error)
}

type treatmentRepo struct {
	db DBTX
}

// NewTreatmentRepository создаёт репозиторий лечений.
func NewTreatmentRepository(db DBTX) TreatmentRepository {
	return &treatmentRepo{db: db}
}

const treatmentColumns = `id, diagnosis_id, description, start_date, end_date, created_at, updated_at`

func scanTreatment(row pgx.Row) (*model.Treatment, error) {
	t := &model.Treatment{}
	if err := row.Scan(&t.ID, &t.DiagnosisID, &t.Description, &t.StartDate, &t.EndDate, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *treatmentRepo) Create(ctx context.Context, t *model.Treatment) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	query := `
		INSERT INTO treatments (id, diagnosis_id, description, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, t.ID, t.DiagnosisID, t.Description, t.StartDate, t.EndDate).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return mapWriteError("создания лечения", err)
	}
	return nil
}

func (r *treatmentRepo) GetByID(ctx context.Context, id string) (*model.Treatment, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM treatments WHERE id = $1`, treatmentColumns)

	t, err := scanTreatment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения лечения: %w", err)
	}
	return t, nil
}

func (r *treatmentRepo) Update(ctx context.Context, t *model.Treatment) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE treatments SET description = $2, start_date = $3, end_date = $4, updated_at = $5
		WHERE id = $1`,
		t.ID, t.Description, t.StartDate, t.EndDate, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления лечения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *treatmentRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM treatments WHERE id = $1`, id)
	if err != nil {
		return mapWriteError("удаления лечения", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *treatmentRepo) ListByDiagnosis(ctx context.Context, diagnosisID string) ([]*model.Treatment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM treatments
		WHERE diagnosis_id = $1
		ORDER BY start_date, id`, treatmentColumns)

	rows, err := r.db.Query(ctx, query, diagnosisID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения лечений диагноза: %w", err)
	}
	defer rows.Close()

	var result []*model.Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования лечения: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *treatmentRepo) DeleteByDiagnosis(ctx context.Context, diagnosisID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM treatments WHERE diagnosis_id = $1`, diagnosisID)
	if err != nil {
		return 0, mapWriteError("удаления лечений диагноза", err)
	}
	return tag.RowsAffected(), nil
}
