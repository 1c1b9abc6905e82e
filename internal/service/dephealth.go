// dephealth.go — мониторинг зависимостей Medical Records через topologymetrics SDK.
//
// Проверяются две критичные зависимости:
//   - PostgreSQL — SQL checker поверх pgxpool (pool mode)
//   - Keycloak — HTTP checker к JWKS endpoint realm
//
// Метрики app_dependency_* публикуются на /metrics вместе с метриками сервиса.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — мониторинг зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// DephealthConfig — параметры мониторинга.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (например, "medical-records")
	ServiceID string
	// Group — MR_DEPHEALTH_GROUP
	Group string
	// PostgresURL — только для лейблов метрик, подключение идёт через DB
	PostgresURL     string
	KeycloakJWKSURL string
	CheckInterval   time.Duration
	// TLSSkipVerify — MR_KEYCLOAK_TLS_INSECURE
	TLSSkipVerify bool
}

// NewDephealthService создаёт сервис мониторинга с глобальным Prometheus registry.
// db получают из pgxpool через stdlib.OpenDBFromPool.
func NewDephealthService(cfg DephealthConfig, db *sql.DB, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, db, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с отдельным registerer (для тестов).
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, db *sql.DB, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, db, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, db *sql.DB, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("keycloak-jwks",
			dephealth.FromURL(cfg.KeycloakJWKSURL),
			dephealth.WithHTTPHealthPath(jwksHealthPath(cfg.KeycloakJWKSURL)),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(cfg.TLSSkipVerify),
		),
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// jwksHealthPath возвращает path JWKS URL для HTTP-проверки Keycloak.
// /health у Keycloak доступен только на management порту, поэтому
// проверяется сам JWKS endpoint realm.
func jwksHealthPath(jwksURL string) string {
	parsed, err := url.Parse(jwksURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return "/health"
	}
	return parsed.Path
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL + Keycloak)")
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает состояние зависимостей: имя → ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
