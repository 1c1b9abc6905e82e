// Точка входа Medical Records — административный backend медицинских карт.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует Keycloak клиент и публикатор событий, создаёт сервисный слой
// и API handlers, запускает фоновую синхронизацию пользователей, topologymetrics,
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/simeonov123/MedicalRecords-sub000/internal/api/handlers"
	"github.com/simeonov123/MedicalRecords-sub000/internal/api/middleware"
	"github.com/simeonov123/MedicalRecords-sub000/internal/config"
	"github.com/simeonov123/MedicalRecords-sub000/internal/database"
	"github.com/simeonov123/MedicalRecords-sub000/internal/events"
	"github.com/simeonov123/MedicalRecords-sub000/internal/keycloak"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
	"github.com/simeonov123/MedicalRecords-sub000/internal/server"
	"github.com/simeonov123/MedicalRecords-sub000/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Medical Records запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("MR_DEPHEALTH_GROUP") == "" {
		logger.Warn("MR_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент с кастомным CA (для Keycloak Admin API)
	httpClient, err := middleware.HTTPClientWithCA(cfg.CACertPath, cfg.KeycloakTimeout)
	if err != nil {
		logger.Error("Ошибка загрузки CA-сертификата", slog.String("path", cfg.CACertPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Keycloak Admin API клиент
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		httpClient,
		logger,
		keycloak.WithTimeout(cfg.KeycloakTimeout),
		keycloak.WithRateLimit(cfg.KeycloakRateLimit),
		keycloak.WithRoleCache(cfg.RoleCacheSize, cfg.RoleCacheTTL),
	)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
	)

	// 7. Публикатор аудит-событий
	var publisher events.Publisher = events.Noop{}
	if cfg.AMQPURL != "" {
		amqpPub, amqpErr := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if amqpErr != nil {
			logger.Error("Ошибка подключения к AMQP брокеру", slog.String("error", amqpErr.Error()))
			os.Exit(1)
		}
		defer func() {
			if closeErr := amqpPub.Close(); closeErr != nil {
				logger.Warn("Ошибка закрытия AMQP соединения", slog.String("error", closeErr.Error()))
			}
		}()
		publisher = amqpPub
		logger.Info("Публикация событий в AMQP включена", slog.String("exchange", cfg.AMQPExchange))
	} else {
		logger.Info("MR_AMQP_URL не задан, события не публикуются")
	}

	// 8. Services
	tx := repository.NewTxRunner(pool)
	authz := service.NewClinicalAuthorizer(logger)
	reconciler := service.NewRoleReconciler(kcClient, tx, publisher, logger)
	userSyncSvc := service.NewUserSyncService(
		kcClient, tx, publisher,
		cfg.UserSyncPageSize, cfg.UserSyncInterval,
		logger,
	)

	apiHandler := handlers.NewAPIHandler(handlers.Services{
		AdminUsers:    service.NewAdminUserService(kcClient, tx, reconciler, publisher, logger),
		IDP:           service.NewIDPService(kcClient, tx, userSyncSvc, cfg.KeycloakURL, logger),
		Profiles:      service.NewProfileService(tx, publisher, logger),
		Appointments:  service.NewAppointmentService(tx, authz, logger),
		Diagnoses:     service.NewDiagnosisService(tx, authz, logger),
		SickLeaves:    service.NewSickLeaveService(tx, authz, logger),
		Treatments:    service.NewTreatmentService(tx, authz, logger),
		Prescriptions: service.NewPrescriptionService(tx, authz, logger),
		Medications:   service.NewMedicationService(tx, logger),
	}, logger)

	// 9. Readiness checkers (PostgreSQL + Keycloak)
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), kcClient)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.KeycloakTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer jwtAuth.Close()
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. Запуск фоновых задач
	userSyncSvc.Start(ctx)

	// 11.1 topologymetrics — мониторинг зависимостей (PostgreSQL + Keycloak)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "medical-records",
		Group:           cfg.DephealthGroup,
		PostgresURL:     cfg.DatabaseURL(),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
		TLSSkipVerify:   cfg.KeycloakTLSInsecure,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, healthHandler, jwtAuth)
	runErr := srv.Run(ctx)

	// 13. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	userSyncSvc.Stop()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Medical Records остановлен")
}
