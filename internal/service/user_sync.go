// user_sync.go — полная синхронизация идентичностей с Keycloak.
//
// Reconciliation:
//  1. Постранично получить всех пользователей realm (страница MR_USER_SYNC_PAGE_SIZE)
//  2. Для каждого пользователя получить realm roles и вычислить каноническую роль
//  3. В Keycloak, но не локально → создать идентичность (без профиля)
//  4. Локально, но не в Keycloak → удалить профили и идентичность
//  5. В обоих → без изменений (роль меняется только через смену роли)
//
// Ошибки по отдельным пользователям собираются в UserSyncResult.Failures
// и не прерывают прогон. Ошибка получения списка пользователей фатальна.
// Параллельные запуски схлопываются в один прогон.
//
// Prometheus-метрики:
//   - mr_user_sync_duration_seconds — длительность синхронизации
//   - mr_user_sync_failures_total{stage} — ошибки по пользователям
//   - mr_user_sync_changes_total{action} — созданные и удалённые идентичности
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/events"
	"github.com/simeonov123/MedicalRecords-sub000/internal/keycloak"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// Prometheus-метрики для синхронизации пользователей.
var (
	userSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mr_user_sync_duration_seconds",
		Help:    "Длительность синхронизации пользователей с Keycloak",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s … ~204s
	})
	userSyncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_user_sync_failures_total",
		Help: "Ошибки синхронизации по отдельным пользователям.",
	}, []string{"stage"})
	userSyncChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mr_user_sync_changes_total",
		Help: "Созданные и удалённые синхронизацией идентичности.",
	}, []string{"action"})
)

const (
	defaultSyncPageSize = 1000
	syncRunTimeout      = 10 * time.Minute
)

// UserSyncService — синхронизация локальных идентичностей с Keycloak.
type UserSyncService struct {
	directory IdentityDirectory
	tx        repository.Transactor
	publisher events.Publisher
	pageSize  int
	interval  time.Duration
	logger    *slog.Logger

	group singleflight.Group

	cancel context.CancelFunc
	done   chan struct{}
}

// NewUserSyncService создаёт сервис синхронизации пользователей.
// interval == 0 — фоновая синхронизация отключена, только по запросу.
func NewUserSyncService(
	directory IdentityDirectory,
	tx repository.Transactor,
	publisher events.Publisher,
	pageSize int,
	interval time.Duration,
	logger *slog.Logger,
) *UserSyncService {
	if pageSize <= 0 {
		pageSize = defaultSyncPageSize
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &UserSyncService{
		directory: directory,
		tx:        tx,
		publisher: publisher,
		pageSize:  pageSize,
		interval:  interval,
		logger:    logger.With(slog.String("component", "user_sync")),
	}
}

// Start запускает периодическую синхронизацию, если задан интервал.
func (s *UserSyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Периодическая синхронизация пользователей отключена")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая синхронизация пользователей запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая синхронизация пользователей остановлена")
				return
			case <-ticker.C:
				// Фоновый прогон прерывается вместе с Stop
				_, err := s.shared(ctx, func() (*model.UserSyncResult, error) {
					return s.syncAll(ctx)
				})
				if err != nil {
					s.logger.Error("Ошибка периодической синхронизации пользователей",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *UserSyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// SyncAll выполняет полную синхронизацию. Параллельные вызовы получают
// результат одного и того же прогона. Прогон не зависит от отмены ctx
// вызывающего и ограничен syncRunTimeout.
func (s *UserSyncService) SyncAll(ctx context.Context) (*model.UserSyncResult, error) {
	return s.shared(ctx, func() (*model.UserSyncResult, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncRunTimeout)
		defer cancel()
		return s.syncAll(runCtx)
	})
}

// shared выполняет run один раз на все параллельные вызовы.
// Вызывающий с отменённым ctx выходит сразу, прогон продолжается.
func (s *UserSyncService) shared(ctx context.Context, run func() (*model.UserSyncResult, error)) (*model.UserSyncResult, error) {
	ch := s.group.DoChan("sync_all", func() (any, error) {
		return run()
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("Синхронизация пользователей уже выполняется, результат общий")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.UserSyncResult), nil
	}
}

func (s *UserSyncService) syncAll(ctx context.Context) (*model.UserSyncResult, error) {
	timer := prometheus.NewTimer(userSyncDuration)
	defer timer.ObserveDuration()

	result := &model.UserSyncResult{StartedAt: time.Now().UTC()}

	// 1. Все пользователи Keycloak
	users, err := s.listAllUsers(ctx)
	if err != nil {
		return nil, idpError("получение пользователей из Keycloak", err)
	}
	result.TotalRemote = len(users)

	// 2. Канонические роли. Пользователь с ошибкой получения ролей
	// остаётся в remote и не удаляется локально.
	realm := s.directory.Realm()
	remote := make(map[string]struct{}, len(users))
	roles := make(map[string]string, len(users))
	for _, u := range users {
		remote[u.ID] = struct{}{}
		names, err := s.directory.GetRealmRoles(ctx, u.ID)
		if err != nil {
			s.addFailure(result, u.ID, model.SyncStageRoles, err)
			continue
		}
		roles[u.ID] = rbac.CanonicalRole(names, realm)
	}

	// 3. Локальные идентичности
	var localIDs []string
	err = s.tx.InTx(ctx, func(st *repository.Store) error {
		var err error
		localIDs, err = st.Identities.ListExternalIDs(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("получение локальных идентичностей: %w", err)
	}
	result.TotalLocal = len(localIDs)

	local := make(map[string]struct{}, len(localIDs))
	for _, id := range localIDs {
		local[id] = struct{}{}
	}

	// 4. В Keycloak, но не локально → создать
	for i := range users {
		u := &users[i]
		if _, ok := local[u.ID]; ok {
			result.Unchanged++
			continue
		}
		role, ok := roles[u.ID]
		if !ok {
			// Роль неизвестна — создание откладывается до следующего прогона
			continue
		}
		created, err := s.createIdentity(ctx, u, role)
		if err != nil {
			s.addFailure(result, u.ID, model.SyncStageCreate, err)
			continue
		}
		if created {
			result.Created++
			userSyncChangesTotal.WithLabelValues("created").Inc()
		} else {
			result.Unchanged++
		}
	}

	// 5. Локально, но не в Keycloak → удалить
	for _, id := range localIDs {
		if _, ok := remote[id]; ok {
			continue
		}
		if err := s.deleteIdentity(ctx, id); err != nil {
			s.addFailure(result, id, model.SyncStageDelete, err)
			continue
		}
		result.Deleted++
		userSyncChangesTotal.WithLabelValues("deleted").Inc()
	}

	result.CompletedAt = time.Now().UTC()

	// 6. Состояние синхронизации
	err = s.tx.InTx(ctx, func(st *repository.Store) error {
		return st.SyncState.UpdateUserSync(ctx, result.CompletedAt, len(result.Failures))
	})
	if err != nil {
		s.logger.Warn("Ошибка обновления sync_state",
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Синхронизация пользователей завершена",
		slog.Int("total_remote", result.TotalRemote),
		slog.Int("total_local", result.TotalLocal),
		slog.Int("created", result.Created),
		slog.Int("deleted", result.Deleted),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("failures", len(result.Failures)),
		slog.Duration("duration", result.CompletedAt.Sub(result.StartedAt)),
	)

	return result, nil
}

// listAllUsers читает пользователей страницами до первой неполной страницы.
func (s *UserSyncService) listAllUsers(ctx context.Context) ([]keycloak.KeycloakUser, error) {
	var all []keycloak.KeycloakUser
	for first := 0; ; first += s.pageSize {
		page, err := s.directory.ListUsers(ctx, "", first, s.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < s.pageSize {
			return all, nil
		}
	}
}

// createIdentity создаёт идентичность без профиля.
// false — идентичность появилась параллельно (например, при первом входе).
func (s *UserSyncService) createIdentity(ctx context.Context, u *keycloak.KeycloakUser, role string) (bool, error) {
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		if err := st.Identities.Lock(ctx, u.ID); err != nil {
			return err
		}
		return st.Identities.Create(ctx, identityFromUser(u, role))
	})
	if errors.Is(err, repository.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("Идентичность создана из Keycloak",
		slog.String("identity_id", u.ID),
		slog.String("role", role),
	)
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:       events.TypeIdentityCreated,
		IdentityID: u.ID,
		Role:       role,
		Source:     events.SourceSync,
	})
	return true, nil
}

// deleteIdentity удаляет идентичность, отсутствующую в Keycloak.
// Идентичность, на которую ссылаются приёмы, не удаляется (ErrIdentityReferenced).
func (s *UserSyncService) deleteIdentity(ctx context.Context, id string) error {
	var role string
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		var err error
		role, err = removeIdentity(ctx, st, id)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("Идентичность удалена: отсутствует в Keycloak",
		slog.String("identity_id", id),
	)
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:         events.TypeIdentityDeleted,
		IdentityID:   id,
		PreviousRole: role,
		Source:       events.SourceSync,
	})
	return nil
}

// removeIdentity удаляет профили и идентичность внутри транзакции.
// Возвращает метку роли удалённой идентичности.
func removeIdentity(ctx context.Context, st *repository.Store, id string) (string, error) {
	if err := st.Identities.Lock(ctx, id); err != nil {
		return "", err
	}
	ident, err := st.Identities.GetByExternalID(ctx, id)
	if err != nil {
		return "", err
	}

	refs, err := st.Appointments.CountByIdentity(ctx, id)
	if err != nil {
		return "", err
	}
	if refs > 0 {
		return "", fmt.Errorf("%w: %s (приёмов: %d)", ErrIdentityReferenced, id, refs)
	}

	if _, err := st.Patients.ClearPrimaryDoctor(ctx, id); err != nil {
		return "", err
	}
	if _, err := st.Doctors.DeleteByExternalID(ctx, id); err != nil {
		return "", err
	}
	if _, err := st.Patients.DeleteByExternalID(ctx, id); err != nil {
		return "", err
	}
	if err := st.Identities.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrReferenced) {
			return "", fmt.Errorf("%w: %s", ErrIdentityReferenced, id)
		}
		return "", err
	}
	return ident.Role, nil
}

func (s *UserSyncService) addFailure(result *model.UserSyncResult, id, stage string, err error) {
	result.Failures = append(result.Failures, model.SyncFailure{IdentityID: id, Stage: stage, Err: err})
	userSyncFailuresTotal.WithLabelValues(stage).Inc()
	s.logger.Warn("Ошибка синхронизации пользователя",
		slog.String("identity_id", id),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}
