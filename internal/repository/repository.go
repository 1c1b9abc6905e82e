// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrReferenced — запись нельзя удалить, на неё ссылаются другие записи,
	// либо ссылка при вставке указывает на несуществующую запись.
	ErrReferenced = errors.New("нарушение ссылочной целостности")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — набор репозиториев, работающих поверх одного DBTX.
// Внутри транзакции все репозитории видят одно и то же состояние.
type Store struct {
	Identities    IdentityRepository
	Doctors       DoctorProfileRepository
	Patients      PatientProfileRepository
	Appointments  AppointmentRepository
	Diagnoses     DiagnosisRepository
	SickLeaves    SickLeaveRepository
	Treatments    TreatmentRepository
	Prescriptions PrescriptionRepository
	Medications   MedicationRepository
	SyncState     SyncStateRepository
}

// NewStore создаёт набор репозиториев поверх db (пул или транзакция).
func NewStore(db DBTX) *Store {
	return &Store{
		Identities:    NewIdentityRepository(db),
		Doctors:       NewDoctorProfileRepository(db),
		Patients:      NewPatientProfileRepository(db),
		Appointments:  NewAppointmentRepository(db),
		Diagnoses:     NewDiagnosisRepository(db),
		SickLeaves:    NewSickLeaveRepository(db),
		Treatments:    NewTreatmentRepository(db),
		Prescriptions: NewPrescriptionRepository(db),
		Medications:   NewMedicationRepository(db),
		SyncState:     NewSyncStateRepository(db),
	}
}

// Transactor выполняет функцию над Store атомарно.
// Ошибка fn откатывает все изменения, сделанные через переданный Store.
type Transactor interface {
	InTx(ctx context.Context, fn func(s *Store) error) error
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translateCommitError(err)
	}
	return nil
}

// InTx реализует Transactor: Store строится поверх транзакции.
func (r *TxRunner) InTx(ctx context.Context, fn func(s *Store) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStore(tx))
	})
}

// translateCommitError приводит ошибку отложенной проверки FK при commit
// к ErrReferenced.
func translateCommitError(err error) error {
	if isForeignKeyViolation(err) {
		return fmt.Errorf("ошибка фиксации транзакции: %w: %v", ErrReferenced, err)
	}
	return fmt.Errorf("ошибка фиксации транзакции: %w", err)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyViolation проверяет, является ли ошибка нарушением внешнего ключа.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// mapWriteError приводит ошибки PostgreSQL при записи к ошибкам слоя.
func mapWriteError(op string, err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, ErrReferenced)
	default:
		return fmt.Errorf("ошибка %s: %w", op, err)
	}
}
