package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// IdentityRepository — интерфейс для таблицы identities.
type IdentityRepository interface {
	// Lock берёт транзакционную advisory-блокировку на идентичность.
	// Блокировка снимается при commit/rollback. Вне транзакции бессмысленна.
	Lock(ctx context.Context, externalID string) error
	// Create создаёт идентичность. ErrConflict, если external_id уже есть.
	Create(ctx context.Context, ident *model.Identity) error
	// Upsert создаёт идентичность или обновляет её поля и метку роли.
	Upsert(ctx context.Context, ident *model.Identity) error
	// GetByExternalID возвращает идентичность по Keycloak user ID.
	GetByExternalID(ctx context.Context, externalID string) (*model.Identity, error)
	// UpdateDetails обновляет username, email, имя, фамилию, display name, email_verified.
	UpdateDetails(ctx context.Context, ident *model.Identity) error
	// Delete удаляет идентичность. ErrReferenced, если на неё ссылаются приёмы.
	Delete(ctx context.Context, externalID string) error
	// ListExternalIDs возвращает все external_id.
	ListExternalIDs(ctx context.Context) ([]string, error)
	// List возвращает идентичности (с пагинацией).
	List(ctx context.Context, limit, offset int) ([]*model.Identity, error)
	// Count возвращает количество идентичностей.
	Count(ctx context.Context) (int, error)
}

// identityRepo — реализация IdentityRepository.
type identityRepo struct {
	db DBTX
}

// NewIdentityRepository создаёт репозиторий идентичностей.
func NewIdentityRepository(db DBTX) IdentityRepository {
	return &identityRepo{db: db}
}

const identityColumns = `id, external_id, username, email, first_name, last_name,
	display_name, email_verified, role, created_at, updated_at`

func scanIdentity(row pgx.Row) (*model.Identity, error) {
	ident := &model.Identity{}
	err := row.Scan(
		&ident.ID, &ident.ExternalID, &ident.Username, &ident.Email,
		&ident.FirstName, &ident.LastName, &ident.DisplayName,
		&ident.EmailVerified, &ident.Role, &ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ident, nil
}

func (r *identityRepo) Lock(ctx context.Context, externalID string) error {
	// hashtext даёт int4; коллизии только сериализуют разные идентичности, не нарушая корректность
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, externalID); err != nil {
		return fmt.Errorf("ошибка блокировки идентичности %s: %w", externalID, err)
	}
	return nil
}

func (r *identityRepo) Create(ctx context.Context, ident *model.Identity) error {
	if ident.ID == "" {
		ident.ID = uuid.New().String()
	}

	query := `
		INSERT INTO identities (id, external_id, username, email, first_name, last_name,
			display_name, email_verified, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		ident.ID, ident.ExternalID, ident.Username, ident.Email, ident.FirstName,
		ident.LastName, ident.DisplayName, ident.EmailVerified, ident.Role,
	).Scan(&ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return mapWriteError("создания идентичности", err)
	}
	return nil
}

func (r *identityRepo) Upsert(ctx context.Context, ident *model.Identity) error {
	if ident.ID == "" {
		ident.ID = uuid.New().String()
	}

	query := `
		INSERT INTO identities (id, external_id, username, email, first_name, last_name,
			display_name, email_verified, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			display_name = EXCLUDED.display_name,
			email_verified = EXCLUDED.email_verified,
			role = EXCLUDED.role,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		ident.ID, ident.ExternalID, ident.Username, ident.Email, ident.FirstName,
		ident.LastName, ident.DisplayName, ident.EmailVerified, ident.Role,
	).Scan(&ident.ID, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return mapWriteError("upsert идентичности", err)
	}
	return nil
}

func (r *identityRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Identity, error) {
	query := fmt.Sprintf(`SELECT %s FROM identities WHERE external_id = $1`, identityColumns)

	ident, err := scanIdentity(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения идентичности: %w", err)
	}
	return ident, nil
}

func (r *identityRepo) UpdateDetails(ctx context.Context, ident *model.Identity) error {
	query := `
		UPDATE identities SET
			username = $2, email = $3, first_name = $4, last_name = $5,
			display_name = $6, email_verified = $7, updated_at = now()
		WHERE external_id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		ident.ExternalID, ident.Username, ident.Email, ident.FirstName,
		ident.LastName, ident.DisplayName, ident.EmailVerified,
	).Scan(&ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления идентичности: %w", err)
	}
	return nil
}

func (r *identityRepo) Delete(ctx context.Context, externalID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM identities WHERE external_id = $1`, externalID)
	if err != nil {
		return mapWriteError("удаления идентичности", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *identityRepo) ListExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT external_id FROM identities ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка идентичностей: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования идентичностей: %w", err)
	}
	return ids, nil
}

func (r *identityRepo) List(ctx context.Context, limit, offset int) ([]*model.Identity, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM identities
		ORDER BY created_at DESC, external_id
		LIMIT $1 OFFSET $2`, identityColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка идентичностей: %w", err)
	}
	defer rows.Close()

	var result []*model.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования идентичности: %w", err)
		}
		result = append(result, ident)
	}
	return result, rows.Err()
}

func (r *identityRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта идентичностей: %w", err)
	}
	return count, nil
}
