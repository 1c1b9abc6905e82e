package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// DoctorProfileRepository — интерфейс для таблицы doctor_profiles.
type DoctorProfileRepository interface {
	// Create создаёт профиль врача. ErrConflict, если профиль уже есть.
	Create(ctx context.Context, p *model.DoctorProfile) error
	// GetByExternalID возвращает профиль по Keycloak user ID владельца.
	GetByExternalID(ctx context.Context, externalID string) (*model.DoctorProfile, error)
	// Update обновляет имя, специализации и признак первичного звена.
	Update(ctx context.Context, p *model.DoctorProfile) error
	// DeleteByExternalID удаляет профиль. Возвращает false, если профиля не было.
	DeleteByExternalID(ctx context.Context, externalID string) (bool, error)
}

// PatientProfileRepository — интерфейс для таблицы patient_profiles.
type PatientProfileRepository interface {
	// Create создаёт профиль пациента. ErrConflict, если профиль уже есть.
	Create(ctx context.Context, p *model.PatientProfile) error
	// GetByExternalID возвращает профиль по Keycloak user ID владельца.
	GetByExternalID(ctx context.Context, externalID string) (*model.PatientProfile, error)
	// Update обновляет имя, страховку и лечащего врача.
	Update(ctx context.Context, p *model.PatientProfile) error
	// DeleteByExternalID удаляет профиль. Возвращает false, если профиля не было.
	DeleteByExternalID(ctx context.Context, externalID string) (bool, error)
	// ClearPrimaryDoctor снимает врача с пациентов, у которых он лечащий.
	ClearPrimaryDoctor(ctx context.Context, doctorExternalID string) (int64, error)
}

// --- doctor_profiles ---

type doctorProfileRepo struct {
	db DBTX
}

// NewDoctorProfileRepository создаёт репозиторий профилей врачей.
func NewDoctorProfileRepository(db DBTX) DoctorProfileRepository {
	return &doctorProfileRepo{db: db}
}

const doctorColumns = `id, external_id, name, specialties, primary_care, created_at, updated_at`

func (r *doctorProfileRepo) Create(ctx context.Context, p *model.DoctorProfile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	query := `
		INSERT INTO doctor_profiles (id, external_id, name, specialties, primary_care)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, p.ID, p.ExternalID, p.Name, p.Specialties, p.PrimaryCare).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapWriteError("создания профиля врача", err)
	}
	return nil
}

func (r *doctorProfileRepo) GetByExternalID(ctx context.Context, externalID string) (*model.DoctorProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM doctor_profiles WHERE external_id = $1`, doctorColumns)

	p := &model.DoctorProfile{}
	err := r.db.QueryRow(ctx, query, externalID).Scan(
		&p.ID, &p.ExternalID, &p.Name, &p.Specialties, &p.PrimaryCare, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля врача: %w", err)
	}
	return p, nil
}

func (r *doctorProfileRepo) Update(ctx context.Context, p *model.DoctorProfile) error {
	query := `
		UPDATE doctor_profiles SET name = $2, specialties = $3, primary_care = $4, updated_at = now()
		WHERE external_id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, p.ExternalID, p.Name, p.Specialties, p.PrimaryCare).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления профиля врача: %w", err)
	}
	return nil
}

func (r *doctorProfileRepo) DeleteByExternalID(ctx context.Context, externalID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM doctor_profiles WHERE external_id = $1`, externalID)
	if err != nil {
		return false, mapWriteError("удаления профиля врача", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- patient_profiles ---

type patientProfileRepo struct {
	db DBTX
}

// NewPatientProfileRepository создаёт репозиторий профилей пациентов.
func NewPatientProfileRepository(db DBTX) PatientProfileRepository {
	return &patientProfileRepo{db: db}
}

const patientColumns = `id, external_id, name, insurance_paid, primary_doctor_id, created_at, updated_at`

func (r *patientProfileRepo) Create(ctx context.Context, p *model.PatientProfile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	query := `
		INSERT INTO patient_profiles (id, external_id, name, insurance_paid, primary_doctor_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, p.ID, p.ExternalID, p.Name, p.InsurancePaid, p.PrimaryDoctorID).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapWriteError("создания профиля пациента", err)
	}
	return nil
}

func (r *patientProfileRepo) GetByExternalID(ctx context.Context, externalID string) (*model.PatientProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM patient_profiles WHERE external_id = $1`, patientColumns)

	p := &model.PatientProfile{}
	err := r.db.QueryRow(ctx, query, externalID).Scan(
		&p.ID, &p.ExternalID, &p.Name, &p.InsurancePaid, &p.PrimaryDoctorID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля пациента: %w", err)
	}
	return p, nil
}

func (r *patientProfileRepo) Update(ctx context.Context, p *model.PatientProfile) error {
	query := `
		UPDATE patient_profiles SET name = $2, insurance_paid = $3, primary_doctor_id = $4, updated_at = now()
		WHERE external_id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, p.ExternalID, p.Name, p.InsurancePaid, p.PrimaryDoctorID).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return mapWriteError("обновления профиля пациента", err)
	}
	return nil
}

func (r *patientProfileRepo) DeleteByExternalID(ctx context.Context, externalID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM patient_profiles WHERE external_id = $1`, externalID)
	if err != nil {
		return false, mapWriteError("удаления профиля пациента", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *patientProfileRepo) ClearPrimaryDoctor(ctx context.Context, doctorExternalID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE patient_profiles SET primary_doctor_id = NULL, updated_at = now() WHERE primary_doctor_id = $1`,
		doctorExternalID)
	if err != nil {
		return 0, fmt.Errorf("ошибка снятия лечащего врача: %w", err)
	}
	return tag.RowsAffected(), nil
}
