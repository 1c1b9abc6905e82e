// Пакет events — аудит-события изменения идентичностей.
// События публикуются только после фиксации транзакции. Ошибка публикации
// логируется и не влияет на результат операции.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Типы событий.
const (
	TypeRoleChanged     = "identity.role_changed"
	TypeIdentityCreated = "identity.created"
	TypeIdentityDeleted = "identity.deleted"
)

// Event — аудит-событие об идентичности.
type Event struct {
	// Type — тип события (routing key)
	Type string `json:"type"`
	// IdentityID — Keycloak user ID, к которому относится событие
	IdentityID string `json:"identity_id"`
	// ActorID — кто инициировал изменение (пусто — фоновая синхронизация)
	ActorID string `json:"actor_id,omitempty"`
	// Role — метка роли после изменения
	Role string `json:"role,omitempty"`
	// PreviousRole — метка роли до изменения
	PreviousRole string `json:"previous_role,omitempty"`
	// Source — api или sync
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Источники событий.
const (
	SourceAPI  = "api"
	SourceSync = "sync"
)

// Publisher — получатель аудит-событий.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop — публикатор, который ничего не делает (MR_AMQP_URL не задан).
type Noop struct{}

// Publish ничего не делает.
func (Noop) Publish(context.Context, Event) error { return nil }

// Emit публикует событие и логирует ошибку публикации.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, e Event) {
	if p == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn("Ошибка публикации события",
			slog.String("type", e.Type),
			slog.String("identity_id", e.IdentityID),
			slog.String("error", err.Error()),
		)
	}
}
