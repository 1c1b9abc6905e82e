package model

import "time"

// SyncState — состояние синхронизации (одна строка в БД, id = 1).
type SyncState struct {
	// LastUserSyncAt — время последней синхронизации пользователей с Keycloak
	LastUserSyncAt *time.Time
	// LastUserSyncFailures — количество ошибок по пользователям в последнем прогоне
	LastUserSyncFailures int
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Этапы полной синхронизации, на которых может возникнуть ошибка по пользователю.
const (
	SyncStageRoles  = "roles"
	SyncStageCreate = "create"
	SyncStageDelete = "delete"
)

// SyncFailure — ошибка синхронизации одного пользователя.
type SyncFailure struct {
	// IdentityID — Keycloak user ID
	IdentityID string
	// Stage — этап: roles, create, delete
	Stage string
	// Err — причина
	Err error
}

// UserSyncResult — результат полной синхронизации пользователей с Keycloak.
type UserSyncResult struct {
	// TotalRemote — пользователей в Keycloak
	TotalRemote int
	// TotalLocal — идентичностей в локальной БД до синхронизации
	TotalLocal int
	// Created — создано локальных идентичностей
	Created int
	// Deleted — удалено локальных идентичностей
	Deleted int
	// Unchanged — совпавших идентичностей (не изменялись)
	Unchanged int
	// Failures — ошибки по отдельным пользователям
	Failures []SyncFailure
	// StartedAt, CompletedAt — границы прогона
	StartedAt   time.Time
	CompletedAt time.Time
}
