package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// SyncStateRepository — интерфейс для таблицы sync_state (одна строка).
type SyncStateRepository interface {
	// Get возвращает текущее состояние синхронизации.
	Get(ctx context.Context) (*model.SyncState, error)
	// UpdateUserSync фиксирует время и число ошибок последней синхронизации пользователей.
	UpdateUserSync(ctx context.Context, t time.Time, failures int) error
}

// syncStateRepo — реализация SyncStateRepository.
type syncStateRepo struct {
	db DBTX
}

// NewSyncStateRepository создаёт репозиторий состояния синхронизации.
func NewSyncStateRepository(db DBTX) SyncStateRepository {
	return &syncStateRepo{db: db}
}

func (r *syncStateRepo) Get(ctx context.Context) (*model.SyncState, error) {
	query := `
		SELECT last_user_sync_at, last_user_sync_failures, updated_at
		FROM sync_state
		WHERE id = 1`

	s := &model.SyncState{}
	err := r.db.QueryRow(ctx, query).Scan(&s.LastUserSyncAt, &s.LastUserSyncFailures, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sync_state: %w", err)
	}
	return s, nil
}

func (r *syncStateRepo) UpdateUserSync(ctx context.Context, t time.Time, failures int) error {
	query := `
		UPDATE sync_state
		SET last_user_sync_at = $1, last_user_sync_failures = $2, updated_at = now()
		WHERE id = 1`
	if _, err := r.db.Exec(ctx, query, t, failures); err != nil {
		return fmt.Errorf("ошибка обновления last_user_sync_at: %w", err)
	}
	return nil
}
