// Пакет config — загрузка и валидация конфигурации Medical Records
// из переменных окружения (с опциональным .env файлом).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Разрешённые CORS origins (пусто — CORS отключён)
	CORSAllowedOrigins []string
	// Лимит запросов в секунду с одного IP (0 — без ограничения)
	RateLimitRPS int

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak ---

	// URL Keycloak (например, https://keycloak.clinic.local)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для доступа к Keycloak Admin API
	KeycloakClientID string
	// Client Secret для доступа к Keycloak Admin API
	KeycloakClientSecret string
	// Таймаут одного вызова Admin API. Истечение считается недоступностью IdP.
	KeycloakTimeout time.Duration
	// Лимит исходящих запросов к Admin API в секунду (0 — без ограничения)
	KeycloakRateLimit int
	// Размер и TTL кэша realm-ролей
	RoleCacheSize int
	RoleCacheTTL  time.Duration

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Синхронизация пользователей ---

	// Размер страницы при листинге пользователей IdP
	UserSyncPageSize int
	// Интервал фоновой синхронизации (0 — только по запросу администратора)
	UserSyncInterval time.Duration

	// --- Мониторинг ---

	// Группа topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string
	// Не проверять TLS-сертификат Keycloak в проверках topologymetrics
	KeycloakTLSInsecure bool

	// --- События ---

	// URL брокера AMQP (пусто — события не публикуются)
	AMQPURL string
	// Имя topic exchange для событий идентичностей
	AMQPExchange string

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Перед разбором подгружается .env (путь — MR_ENV_FILE), если файл существует.
// Уже заданные переменные окружения не перезаписываются.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvDefault("MR_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("MR_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("MR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MR_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("MR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.CORSAllowedOrigins = parseCSV(getEnvDefault("MR_CORS_ALLOWED_ORIGINS", ""))

	cfg.RateLimitRPS, err = getEnvInt("MR_RATE_LIMIT_RPS", 0)
	if err != nil {
		return nil, fmt.Errorf("MR_RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitRPS < 0 {
		return nil, fmt.Errorf("MR_RATE_LIMIT_RPS: значение %d не может быть отрицательным", cfg.RateLimitRPS)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("MR_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("MR_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("MR_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("MR_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("MR_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("MR_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("MR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("MR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Keycloak ---

	cfg.KeycloakURL, err = getEnvRequired("MR_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	cfg.KeycloakRealm = getEnvDefault("MR_KEYCLOAK_REALM", "medical-records")

	cfg.KeycloakClientID, err = getEnvRequired("MR_KEYCLOAK_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	cfg.KeycloakClientSecret, err = getEnvRequired("MR_KEYCLOAK_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.KeycloakTimeout, err = getEnvDuration("MR_KEYCLOAK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MR_KEYCLOAK_TIMEOUT: %w", err)
	}
	if cfg.KeycloakTimeout <= 0 {
		return nil, fmt.Errorf("MR_KEYCLOAK_TIMEOUT: таймаут должен быть положительным")
	}

	cfg.KeycloakRateLimit, err = getEnvInt("MR_KEYCLOAK_RATE_LIMIT", 20)
	if err != nil {
		return nil, fmt.Errorf("MR_KEYCLOAK_RATE_LIMIT: %w", err)
	}
	if cfg.KeycloakRateLimit < 0 {
		return nil, fmt.Errorf("MR_KEYCLOAK_RATE_LIMIT: значение %d не может быть отрицательным", cfg.KeycloakRateLimit)
	}

	cfg.RoleCacheSize, err = getEnvInt("MR_ROLE_CACHE_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("MR_ROLE_CACHE_SIZE: %w", err)
	}
	if cfg.RoleCacheSize < 1 {
		return nil, fmt.Errorf("MR_ROLE_CACHE_SIZE: значение %d должно быть не меньше 1", cfg.RoleCacheSize)
	}

	cfg.RoleCacheTTL, err = getEnvDuration("MR_ROLE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MR_ROLE_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("MR_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWTJWKSURL = getEnvDefault("MR_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWKSRefreshInterval, err = getEnvDuration("MR_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MR_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWTLeeway, err = getEnvDuration("MR_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MR_JWT_LEEWAY: %w", err)
	}

	// --- Синхронизация пользователей ---

	cfg.UserSyncPageSize, err = getEnvInt("MR_USER_SYNC_PAGE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("MR_USER_SYNC_PAGE_SIZE: %w", err)
	}
	if cfg.UserSyncPageSize < 1 || cfg.UserSyncPageSize > 10000 {
		return nil, fmt.Errorf("MR_USER_SYNC_PAGE_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.UserSyncPageSize)
	}

	cfg.UserSyncInterval, err = getEnvDuration("MR_USER_SYNC_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("MR_USER_SYNC_INTERVAL: %w", err)
	}
	if cfg.UserSyncInterval < 0 {
		return nil, fmt.Errorf("MR_USER_SYNC_INTERVAL: интервал не может быть отрицательным")
	}

	// --- Мониторинг ---

	cfg.DephealthGroup = getEnvDefault("MR_DEPHEALTH_GROUP", "medical-records")

	cfg.DephealthCheckInterval, err = getEnvDuration("MR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.CACertPath = getEnvDefault("MR_CA_CERT_PATH", "")
	cfg.KeycloakTLSInsecure = getEnvDefault("MR_KEYCLOAK_TLS_INSECURE", "false") == "true"

	// --- События ---

	cfg.AMQPURL = getEnvDefault("MR_AMQP_URL", "")
	cfg.AMQPExchange = getEnvDefault("MR_AMQP_EXCHANGE", "medical-records.events")

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("MR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadDotEnv подгружает переменные из файла, отсутствие файла — не ошибка.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("загрузка %s: %w", path, err)
	}
	return nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
