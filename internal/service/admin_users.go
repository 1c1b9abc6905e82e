// Пакет service — бизнес-логика Medical Records.
// admin_users.go — управление пользователями Keycloak и их локальными идентичностями.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/events"
	"github.com/simeonov123/MedicalRecords-sub000/internal/keycloak"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// AdminUserService — сервис управления пользователями.
// Keycloak — основной источник, локальные идентичности приводятся к нему
// через RoleReconciler.
type AdminUserService struct {
	directory  IdentityDirectory
	tx         repository.Transactor
	reconciler *RoleReconciler
	publisher  events.Publisher
	logger     *slog.Logger
}

// NewAdminUserService создаёт сервис управления пользователями.
func NewAdminUserService(
	directory IdentityDirectory,
	tx repository.Transactor,
	reconciler *RoleReconciler,
	publisher events.Publisher,
	logger *slog.Logger,
) *AdminUserService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &AdminUserService{
		directory:  directory,
		tx:         tx,
		reconciler: reconciler,
		publisher:  publisher,
		logger:     logger.With(slog.String("component", "admin_users_service")),
	}
}

// ListUsers возвращает страницу пользователей Keycloak с локальными данными.
func (s *AdminUserService) ListUsers(ctx context.Context, search string, limit, offset int) ([]*model.AdminUser, int, error) {
	kcUsers, err := s.directory.ListUsers(ctx, search, offset, limit)
	if err != nil {
		return nil, 0, idpError("получение пользователей из Keycloak", err)
	}

	total, err := s.directory.CountUsers(ctx)
	if err != nil {
		return nil, 0, idpError("подсчёт пользователей в Keycloak", err)
	}

	users := make([]*model.AdminUser, 0, len(kcUsers))
	for i := range kcUsers {
		user, err := s.enrichUser(ctx, &kcUsers[i])
		if err != nil {
			s.logger.Warn("Ошибка обогащения пользователя",
				slog.String("user_id", kcUsers[i].ID),
				slog.String("error", err.Error()),
			)
			users = append(users, basicUser(&kcUsers[i]))
			continue
		}
		users = append(users, user)
	}

	return users, total, nil
}

// GetUser возвращает пользователя по Keycloak ID.
func (s *AdminUserService) GetUser(ctx context.Context, id string) (*model.AdminUser, error) {
	kcUser, err := s.directory.GetUser(ctx, id)
	if err != nil {
		return nil, idpError("получение пользователя из Keycloak", err)
	}

	user, err := s.enrichUser(ctx, kcUser)
	if err != nil {
		s.logger.Warn("Ошибка обогащения пользователя, используем базовые данные",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		return basicUser(kcUser), nil
	}
	return user, nil
}

// CreateUser создаёт пользователя в Keycloak, назначает роль и создаёт
// локальную идентичность с профилем. Если локальный шаг не удался,
// пользователь удаляется из Keycloak.
func (s *AdminUserService) CreateUser(ctx context.Context, actor model.Principal, in model.CreateUserInput) (*model.AdminUser, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return nil, validationError("username обязателен")
	}
	role := in.Role
	if role == "" {
		role = rbac.RoleUser
	}
	if !validRole(role) {
		return nil, ErrInvalidRole
	}

	id, err := s.directory.CreateUser(ctx, keycloak.CreateUserRequest{
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password:  in.Password,
	})
	if err != nil {
		return nil, idpError("создание пользователя в Keycloak", err)
	}

	if rbac.IsApplicationRole(role) {
		if err := s.directory.AssignRole(ctx, id, role); err != nil {
			s.compensateCreate(ctx, id)
			return nil, idpError("назначение роли в Keycloak", err)
		}
	}

	if err := s.reconciler.applyRoleChange(ctx, id, role, actor.IdentityID); err != nil {
		s.compensateCreate(ctx, id)
		return nil, err
	}

	s.logger.Info("Пользователь создан",
		slog.String("user_id", id),
		slog.String("username", in.Username),
		slog.String("role", role),
		slog.String("actor_id", actor.IdentityID),
	)
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:       events.TypeIdentityCreated,
		IdentityID: id,
		ActorID:    actor.IdentityID,
		Role:       role,
		Source:     events.SourceAPI,
	})

	return s.GetUser(ctx, id)
}

// compensateCreate удаляет из Keycloak пользователя, которого не удалось
// завести локально.
func (s *AdminUserService) compensateCreate(ctx context.Context, id string) {
	if err := s.directory.DeleteUser(context.WithoutCancel(ctx), id); err != nil {
		s.logger.Error("Не удалось откатить создание пользователя в Keycloak",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// UpdateUserDetails изменяет email и имя пользователя в Keycloak,
// затем в локальной идентичности и профиле.
func (s *AdminUserService) UpdateUserDetails(ctx context.Context, actor model.Principal, id string, details model.UserDetails) (*model.AdminUser, error) {
	if details.Email == nil && details.FirstName == nil && details.LastName == nil {
		return nil, validationError("нет изменяемых полей")
	}

	err := s.directory.UpdateUserDetails(ctx, id, keycloak.UserUpdate{
		Email:     details.Email,
		FirstName: details.FirstName,
		LastName:  details.LastName,
	})
	if err != nil {
		return nil, idpError("обновление пользователя в Keycloak", err)
	}

	kcUser, err := s.directory.GetUser(ctx, id)
	if err != nil {
		return nil, idpError("получение пользователя из Keycloak", err)
	}

	if err := s.refreshLocal(ctx, kcUser, true); err != nil {
		return nil, err
	}

	s.logger.Info("Данные пользователя обновлены",
		slog.String("user_id", id),
		slog.String("actor_id", actor.IdentityID),
	)
	return s.GetUser(ctx, id)
}

// SetEmailVerified выставляет признак подтверждения email.
func (s *AdminUserService) SetEmailVerified(ctx context.Context, id string, verified bool) (*model.AdminUser, error) {
	if err := s.directory.SetEmailVerified(ctx, id, verified); err != nil {
		return nil, idpError("обновление email_verified в Keycloak", err)
	}

	kcUser, err := s.directory.GetUser(ctx, id)
	if err != nil {
		return nil, idpError("получение пользователя из Keycloak", err)
	}
	if err := s.refreshLocal(ctx, kcUser, false); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// refreshLocal копирует данные пользователя Keycloak в локальную идентичность.
// withProfile — обновить и имя профиля. Отсутствие идентичности не ошибка:
// её создаст синхронизация или первый вход.
func (s *AdminUserService) refreshLocal(ctx context.Context, u *keycloak.KeycloakUser, withProfile bool) error {
	return s.tx.InTx(ctx, func(st *repository.Store) error {
		if err := st.Identities.Lock(ctx, u.ID); err != nil {
			return err
		}
		ident, err := st.Identities.GetByExternalID(ctx, u.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("получение идентичности: %w", err)
		}

		fresh := identityFromUser(u, ident.Role)
		if err := st.Identities.UpdateDetails(ctx, fresh); err != nil {
			return storeError("обновление идентичности", err)
		}
		if !withProfile {
			return nil
		}

		overview := &model.IdentityOverview{Identity: fresh}
		if err := loadProfiles(ctx, st, overview); err != nil {
			return err
		}
		if d := overview.Doctor; d != nil && d.Name != fresh.DisplayName {
			d.Name = fresh.DisplayName
			if err := st.Doctors.Update(ctx, d); err != nil {
				return storeError("обновление профиля врача", err)
			}
		}
		if p := overview.Patient; p != nil && p.Name != fresh.DisplayName {
			p.Name = fresh.DisplayName
			if err := st.Patients.Update(ctx, p); err != nil {
				return storeError("обновление профиля пациента", err)
			}
		}
		return nil
	})
}

// DeleteUser удаляет пользователя из Keycloak и локально.
// Пользователь, на которого ссылаются приёмы, не удаляется (ErrIdentityReferenced).
func (s *AdminUserService) DeleteUser(ctx context.Context, actor model.Principal, id string) error {
	if actor.IdentityID == id {
		return validationError("нельзя удалить собственную учётную запись")
	}

	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		n, err := st.Appointments.CountByIdentity(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s (приёмов: %d)", ErrIdentityReferenced, id, n)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.directory.DeleteUser(ctx, id); err != nil && !keycloak.IsNotFound(err) {
		return idpError("удаление пользователя в Keycloak", err)
	}

	var role string
	err = s.tx.InTx(ctx, func(st *repository.Store) error {
		var err error
		role, err = removeIdentity(ctx, st, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		// Пользователь уже удалён из Keycloak: синхронизация повторит удаление
		s.logger.Error("Пользователь удалён из Keycloak, но не удалён локально",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.logger.Info("Пользователь удалён",
		slog.String("user_id", id),
		slog.String("actor_id", actor.IdentityID),
	)
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:         events.TypeIdentityDeleted,
		IdentityID:   id,
		ActorID:      actor.IdentityID,
		PreviousRole: role,
		Source:       events.SourceAPI,
	})
	return nil
}

// ChangeRole заменяет роль приложения пользователя в Keycloak и применяет
// её локально. Если локальное применение не удалось, прежние роли
// восстанавливаются в Keycloak.
func (s *AdminUserService) ChangeRole(ctx context.Context, actor model.Principal, id, role string) (*model.AdminUser, error) {
	if !validRole(role) {
		return nil, ErrInvalidRole
	}
	if actor.IdentityID == id && role != rbac.RoleAdmin {
		return nil, validationError("нельзя снять роль admin с собственной учётной записи")
	}

	current, err := s.directory.GetRealmRoles(ctx, id)
	if err != nil {
		return nil, idpError("получение ролей пользователя", err)
	}
	var previous []string
	for _, r := range current {
		if rbac.IsApplicationRole(r) {
			previous = append(previous, r)
		}
	}

	if err := s.directory.RemoveRoles(ctx, id, previous); err != nil {
		return nil, idpError("снятие ролей в Keycloak", err)
	}
	if rbac.IsApplicationRole(role) {
		if err := s.directory.AssignRole(ctx, id, role); err != nil {
			s.restoreRoles(ctx, id, "", previous)
			return nil, idpError("назначение роли в Keycloak", err)
		}
	}

	if err := s.reconciler.applyRoleChange(ctx, id, role, actor.IdentityID); err != nil {
		s.restoreRoles(ctx, id, role, previous)
		return nil, err
	}

	return s.GetUser(ctx, id)
}

// restoreRoles возвращает пользователю прежние роли приложения (best effort).
func (s *AdminUserService) restoreRoles(ctx context.Context, id, assigned string, previous []string) {
	ctx = context.WithoutCancel(ctx)
	if rbac.IsApplicationRole(assigned) {
		if err := s.directory.RemoveRoles(ctx, id, []string{assigned}); err != nil {
			s.logger.Error("Не удалось снять назначенную роль при откате",
				slog.String("user_id", id),
				slog.String("role", assigned),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, r := range previous {
		if err := s.directory.AssignRole(ctx, id, r); err != nil {
			s.logger.Error("Не удалось восстановить роль при откате",
				slog.String("user_id", id),
				slog.String("role", r),
				slog.String("error", err.Error()),
			)
		}
	}
}

// enrichUser дополняет пользователя Keycloak ролью IdP и локальными данными.
func (s *AdminUserService) enrichUser(ctx context.Context, kcUser *keycloak.KeycloakUser) (*model.AdminUser, error) {
	user := basicUser(kcUser)

	roles, err := s.directory.GetRealmRoles(ctx, kcUser.ID)
	if err != nil {
		return nil, fmt.Errorf("получение ролей пользователя: %w", err)
	}
	user.IdpRole = rbac.CanonicalRole(roles, s.directory.Realm())

	err = s.tx.InTx(ctx, func(st *repository.Store) error {
		ident, err := st.Identities.GetByExternalID(ctx, kcUser.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		user.LocalRole = ident.Role

		overview := &model.IdentityOverview{Identity: ident}
		if err := loadProfiles(ctx, st, overview); err != nil {
			return err
		}
		switch {
		case overview.Doctor != nil:
			user.ProfileKind = rbac.RoleDoctor
		case overview.Patient != nil:
			user.ProfileKind = rbac.RolePatient
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("получение локальной идентичности: %w", err)
	}
	return user, nil
}

// basicUser создаёт AdminUser только из данных Keycloak.
func basicUser(kcUser *keycloak.KeycloakUser) *model.AdminUser {
	return &model.AdminUser{
		ID:            kcUser.ID,
		Username:      kcUser.Username,
		Email:         kcUser.Email,
		FirstName:     kcUser.FirstName,
		LastName:      kcUser.LastName,
		Enabled:       kcUser.Enabled,
		EmailVerified: kcUser.EmailVerified,
		CreatedAt:     kcUser.CreatedAtTime(),
	}
}

// validRole — роли, которые администратор может назначить.
func validRole(role string) bool {
	return rbac.IsApplicationRole(role) || role == rbac.RoleUser
}
