package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// PrescriptionRepository — интерфейс для таблицы prescriptions.
type PrescriptionRepository interface {
	// Create создаёт назначение. ErrReferenced, если медикамент не существует.
	Create(ctx context.Context, p *model.Prescription) error
	GetByID(ctx context.Context, id string) (*model.Prescription, error)
	Update(ctx context.Context, p *model.Prescription) error
	Delete(ctx context.Context, id string) error
	ListByTreatment(ctx context.Context, treatmentID string) ([]*model.Prescription, error)
	// DeleteByTreatment удаляет все назначения лечения.
	DeleteByTreatment(ctx context.Context, treatmentID string) (int64, error)
}

// MedicationRepository — справочник медикаментов (только чтение и наполнение).
type MedicationRepository interface {
	Create(ctx context.Context, m *model.Medication) error
	GetByID(ctx context.Context, id string) (*model.Medication, error)
}

type prescriptionRepo struct {
	db DBTX
}

// NewPrescriptionRepository создаёт репозиторий назначений.
func NewPrescriptionRepository(db DBTX) PrescriptionRepository {
	return &prescriptionRepo{db: db}
}

const prescriptionColumns = `id, treatment_id, medication_id, dosage, duration_days, created_at, updated_at`

func scanPrescription(row pgx.Row) (*model.Prescription, error) {
	p := &model.Prescription{}
	if err := row.Scan(&p.ID, &p.TreatmentID, &p.MedicationID, &p.Dosage, &p.DurationDays, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *prescriptionRepo) Create(ctx context.Context, p *model.Prescription) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if !validID(p.MedicationID) {
		return fmt.Errorf("создания назначения: %w", ErrReferenced)
	}

	query := `
		INSERT INTO prescriptions (id, treatment_id, medication_id, dosage, duration_days)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, p.ID, p.TreatmentID, p.MedicationID, p.Dosage, p.DurationDays).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapWriteError("создания назначения", err)
	}
	return nil
}

func (r *prescriptionRepo) GetByID(ctx context.Context, id string) (*model.Prescription, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM prescriptions WHERE id = $1`, prescriptionColumns)

	p, err := scanPrescription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения назначения: %w", err)
	}
	return p, nil
}

func (r *prescriptionRepo) Update(ctx context.Context, p *model.Prescription) error {
	if !validID(p.MedicationID) {
		return fmt.Errorf("обновления назначения: %w", ErrReferenced)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE prescriptions SET medication_id = $2, dosage = $3, duration_days = $4, updated_at = $5
		WHERE id = $1`,
		p.ID, p.MedicationID, p.Dosage, p.DurationDays, p.UpdatedAt)
	if err != nil {
		return mapWriteError("обновления назначения", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *prescriptionRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления назначения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *prescriptionRepo) ListByTreatment(ctx context.Context, treatmentID string) ([]*model.Prescription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM prescriptions
		WHERE treatment_id = $1
		ORDER BY created_at, id`, prescriptionColumns)

	rows, err := r.db.Query(ctx, query, treatmentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения назначений лечения: %w", err)
	}
	defer rows.Close()

	var result []*model.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования назначения: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *prescriptionRepo) DeleteByTreatment(ctx context.Context, treatmentID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM prescriptions WHERE treatment_id = $1`, treatmentID)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления назначений лечения: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- medications ---

type medicationRepo struct {
	db DBTX
}

// NewMedicationRepository создаёт репозиторий справочника медикаментов.
func NewMedicationRepository(db DBTX) MedicationRepository {
	return &medicationRepo{db: db}
}

func (r *medicationRepo) Create(ctx context.Context, m *model.Medication) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO medications (id, name, dosage_form) VALUES ($1, $2, $3) RETURNING created_at`,
		m.ID, m.Name, m.DosageForm).Scan(&m.CreatedAt)
	if err != nil {
		return mapWriteError("создания медикамента", err)
	}
	return nil
}

func (r *medicationRepo) GetByID(ctx context.Context, id string) (*model.Medication, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	m := &model.Medication{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, dosage_form, created_at FROM medications WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.DosageForm, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения медикамента: %w", err)
	}
	return m, nil
}
