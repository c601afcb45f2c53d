package msglog

import (
	"context"

	"github.com/cwrk-planet/chat-core/internal/domain"
)

// Store — хранилище лога, инжектируется при создании Log. Контракт:
// сообщения комнаты упорядочены по id (ULID «createdAt+tiebreak»),
// Append никогда не перезаписывает, Get по отсутствующему id возвращает
// domain.ErrMessageNotFound.
type Store interface {
	Append(ctx context.Context, msg *domain.Message) error

	// Update перезаписывает изменяемые поля (status, reactions)
	// существующей записи.
	Update(ctx context.Context, msg *domain.Message) error

	Get(ctx context.Context, messageID string) (*domain.Message, error)

	// ListAfter возвращает до limit сообщений комнаты строго после
	// sinceID в порядке лога; пустой sinceID — с начала лога.
	ListAfter(ctx context.Context, roomID, sinceID string, limit int) ([]domain.Message, error)

	// ListRecent возвращает последние limit сообщений комнаты в порядке
	// лога.
	ListRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
}
