package database

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/simeonov123/MedicalRecords-sub000/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("medical_records_test"),
		postgres.WithUsername("clinic"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("MR_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("MR_DB_HOST", host)
	t.Setenv("MR_DB_PORT", port.Port())
	t.Setenv("MR_DB_NAME", "medical_records_test")
	t.Setenv("MR_DB_USER", "clinic")
	t.Setenv("MR_DB_PASSWORD", "test-password")
	t.Setenv("MR_DB_SSL_MODE", "disable")
	t.Setenv("MR_KEYCLOAK_URL", "http://localhost:8080")
	t.Setenv("MR_KEYCLOAK_CLIENT_ID", "test")
	t.Setenv("MR_KEYCLOAK_CLIENT_SECRET", "test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMigrateURL_EscapesCredentials(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db",
		DBPort:     5432,
		DBName:     "medical_records",
		DBUser:     "clinic",
		DBPassword: "p@ss/word",
		DBSSLMode:  "disable",
	}

	raw := migrateURL(cfg)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("migrateURL() вернул некорректный URL %q: %v", raw, err)
	}
	if u.Scheme != "pgx5" {
		t.Errorf("scheme = %q, ожидается pgx5", u.Scheme)
	}
	if pass, _ := u.User.Password(); pass != "p@ss/word" {
		t.Errorf("password = %q, ожидается p@ss/word", pass)
	}
	if u.Host != "db:5432" || u.Path != "/medical_records" {
		t.Errorf("host/path = %q %q", u.Host, u.Path)
	}
	if u.Query().Get("sslmode") != "disable" {
		t.Errorf("sslmode = %q, ожидается disable", u.Query().Get("sslmode"))
	}
}

func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	status, msg := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Fatalf("CheckReady() = %q (%s), ожидается ok", status, msg)
	}
}

func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	tables := []string{
		"identities",
		"doctor_profiles",
		"patient_profiles",
		"sync_state",
		"medications",
		"appointments",
		"diagnoses",
		"sick_leaves",
		"treatments",
		"prescriptions",
	}

	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	var syncID int
	if err := pool.QueryRow(ctx, `SELECT id FROM sync_state WHERE id = 1`).Scan(&syncID); err != nil {
		t.Fatalf("Начальная запись sync_state не найдена: %v", err)
	}
}
