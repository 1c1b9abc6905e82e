package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Ошибки клиента Keycloak.
var (
	// ErrIdpUnavailable — Keycloak недоступен: транспортная ошибка или таймаут.
	// Таймаут никогда не трактуется как «пользователь/роль не существует».
	ErrIdpUnavailable = errors.New("Identity Provider недоступен")
	// ErrIdpAuthFailure — token endpoint не выдал service account token.
	ErrIdpAuthFailure = errors.New("ошибка аутентификации в Identity Provider")
)

// RequestFailedError — Admin API ответил статусом вне 2xx.
type RequestFailedError struct {
	// Operation — имя операции клиента (GetUser, AssignRole, ...)
	Operation string
	// Status — HTTP статус ответа
	Status int
	// Body — тело ответа (для диагностики)
	Body string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("%s: Keycloak API вернул статус %d: %s", e.Operation, e.Status, e.Body)
}

// IsNotFound сообщает, что Keycloak ответил 404.
func IsNotFound(err error) bool {
	var rf *RequestFailedError
	return errors.As(err, &rf) && rf.Status == http.StatusNotFound
}

// IsConflict сообщает, что Keycloak ответил 409.
func IsConflict(err error) bool {
	var rf *RequestFailedError
	return errors.As(err, &rf) && rf.Status == http.StatusConflict
}

// unavailable оборачивает транспортную ошибку в ErrIdpUnavailable,
// сохраняя исходную причину (в т.ч. context.DeadlineExceeded).
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIdpUnavailable, err)
}

// isTimeout — истёк таймаут вызова или контекст отменён.
func isTimeout(ctx context.Context) bool {
	return ctx.Err() != nil
}
