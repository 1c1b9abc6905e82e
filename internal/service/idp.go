// idp.go — сервис статуса Identity Provider (Keycloak).
// GetStatus — проверка подключения, RealmInfo, число пользователей в Keycloak
// и локальных идентичностей, состояние последней синхронизации.
// SyncUsers — принудительная синхронизация пользователей через UserSyncService.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// IDPService — сервис статуса Identity Provider.
type IDPService struct {
	directory   IdentityDirectory
	tx          repository.Transactor
	userSync    *UserSyncService
	keycloakURL string
	logger      *slog.Logger
}

// IDPStatus — статус подключения к Keycloak.
type IDPStatus struct {
	Connected            bool
	Realm                string
	KeycloakURL          string
	UsersCount           *int
	LocalIdentities      *int
	LastUserSyncAt       *time.Time
	LastUserSyncFailures int
	Error                *string
}

// NewIDPService создаёт сервис статуса IdP.
func NewIDPService(
	directory IdentityDirectory,
	tx repository.Transactor,
	userSync *UserSyncService,
	keycloakURL string,
	logger *slog.Logger,
) *IDPService {
	return &IDPService{
		directory:   directory,
		tx:          tx,
		userSync:    userSync,
		keycloakURL: keycloakURL,
		logger:      logger.With(slog.String("component", "idp_service")),
	}
}

// GetStatus возвращает статус подключения к Keycloak.
func (s *IDPService) GetStatus(ctx context.Context) *IDPStatus {
	status := &IDPStatus{
		Realm:       s.directory.Realm(),
		KeycloakURL: s.keycloakURL,
	}

	// Локальная часть доступна и без Keycloak
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		count, err := st.Identities.Count(ctx)
		if err != nil {
			return err
		}
		status.LocalIdentities = &count

		state, err := st.SyncState.Get(ctx)
		if err != nil {
			return err
		}
		status.LastUserSyncAt = state.LastUserSyncAt
		status.LastUserSyncFailures = state.LastUserSyncFailures
		return nil
	})
	if err != nil {
		s.logger.Warn("Ошибка получения локального состояния", slog.String("error", err.Error()))
	}

	realm, err := s.directory.RealmInfo(ctx)
	if err != nil {
		errMsg := fmt.Sprintf("Keycloak недоступен: %v", err)
		status.Error = &errMsg
		return status
	}
	if !realm.Enabled {
		errMsg := fmt.Sprintf("Realm %s отключён", realm.Realm)
		status.Error = &errMsg
		return status
	}
	status.Connected = true

	usersCount, err := s.directory.CountUsers(ctx)
	if err != nil {
		s.logger.Warn("Ошибка подсчёта пользователей", slog.String("error", err.Error()))
	} else {
		status.UsersCount = &usersCount
	}

	return status
}

// SyncUsers выполняет принудительную синхронизацию пользователей с Keycloak.
func (s *IDPService) SyncUsers(ctx context.Context) (*model.UserSyncResult, error) {
	s.logger.Info("Принудительная синхронизация пользователей запущена")

	if s.userSync == nil {
		return nil, fmt.Errorf("сервис синхронизации пользователей не инициализирован")
	}

	result, err := s.userSync.SyncAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("синхронизация пользователей: %w", err)
	}
	return result, nil
}
