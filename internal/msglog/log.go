package msglog

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-core/internal/domain"

	"github.com/oklog/ulid/v2"
)

const (
	maxBodyLen = 4000

	searchPage = 200
)

// Пределы выборки Query; экспортированы, чтобы транспорт резал limit
// до фактического перед вычислением курсора.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 100
)

// Resolver переводит identity id в display name (для поиска по автору).
type Resolver interface {
	DisplayName(identityID string) string
}

// Log — append-only журнал сообщений, партиционированный по комнатам.
// Id назначается здесь (ULID от монотонных часов), поэтому порядок
// (createdAt, id) строго возрастает даже при равных wall-clock метках.
type Log struct {
	mu      sync.Mutex
	store   Store
	clock   *Clock
	entropy io.Reader

	resolver Resolver
}

type Option func(*Log)

func WithClock(c *Clock) Option {
	return func(l *Log) { l.clock = c }
}

func WithResolver(r Resolver) Option {
	return func(l *Log) { l.resolver = r }
}

func New(store Store, opts ...Option) *Log {
	l := &Log{
		store: store,
		clock: NewClock(nil),
	}
	for _, opt := range opts {
		opt(l)
	}
	// ulid.Monotonic не потокобезопасен; все вызовы идут под l.mu
	l.entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return l
}

// Append назначает id и createdAt в момент вставки. Начальный статус —
// Sent.
func (l *Log) Append(ctx context.Context, roomID, authorID string, body domain.Body) (*domain.Message, error) {
	body.Text = strings.TrimSpace(body.Text)
	if body.Empty() {
		return nil, domain.ErrEmptyMessage
	}
	if len(body.Text) > maxBodyLen {
		return nil, domain.ErrMessageTooLong
	}

	// l.mu покрывает только назначение id: часы и entropy общие на все
	// комнаты, а сама запись в store идёт без глобального лока — порядок
	// вставки внутри комнаты держит лок комнаты в координаторе.
	l.mu.Lock()
	now := l.clock.Now()
	id := ulid.MustNew(ulid.Timestamp(now), l.entropy).String()
	l.mu.Unlock()

	msg := &domain.Message{
		ID:        id,
		RoomID:    roomID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: now,
		Status:    domain.StatusSent,
	}
	if err := l.store.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("store.Append: %w", err)
	}
	return msg.Clone(), nil
}

func (l *Log) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	msg, err := l.store.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// AdvanceStatus переводит статус строго вперёд (Sent < Delivered < Read).
// Повтор того же статуса — no-op (безопасный retry), назад —
// ErrInvalidTransition. Второй результат — был ли статус изменён.
func (l *Log) AdvanceStatus(ctx context.Context, messageID string, status domain.MessageStatus) (*domain.Message, bool, error) {
	var changed bool
	msg, err := l.Mutate(ctx, messageID, func(m *domain.Message) error {
		switch {
		case status == m.Status:
			return nil
		case status < m.Status:
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, m.Status, status)
		}
		m.Status = status
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return msg, changed, nil
}

// Mutate применяет fn к изменяемым полям сообщения и сохраняет
// результат. Read-modify-write не защищён собственным локом:
// конкурирующие мутации одного сообщения обязан сериализовать
// вызывающий (координатор делает это локом комнаты сообщения).
func (l *Log) Mutate(ctx context.Context, messageID string, fn func(*domain.Message) error) (*domain.Message, error) {
	msg, err := l.store.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := fn(msg); err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("store.Update: %w", err)
	}
	return msg.Clone(), nil
}

// Query возвращает сообщения строго после sinceID (exclusive) в порядке
// лога; без sinceID — последние limit сообщений.
func (l *Log) Query(ctx context.Context, roomID, sinceID string, limit int) ([]domain.Message, error) {
	limit = clampLimit(limit)
	if sinceID == "" {
		return l.store.ListRecent(ctx, roomID, limit)
	}
	return l.store.ListAfter(ctx, roomID, sinceID, limit)
}

// Search — регистронезависимый substring-поиск по телу и display name
// автора, в порядке лога. Линейный скан: объёмы одной комнаты этого не
// замечают.
func (l *Log) Search(ctx context.Context, roomID, query string) ([]domain.Message, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	var out []domain.Message
	sinceID := ""
	for {
		page, err := l.store.ListAfter(ctx, roomID, sinceID, searchPage)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if l.matches(&m, query) {
				out = append(out, m)
			}
		}
		if len(page) < searchPage {
			return out, nil
		}
		sinceID = page[len(page)-1].ID
	}
}

func (l *Log) matches(m *domain.Message, query string) bool {
	if strings.Contains(strings.ToLower(m.Body.Text), query) {
		return true
	}
	if m.Body.Attachment != nil &&
		strings.Contains(strings.ToLower(m.Body.Attachment.Name), query) {
		return true
	}
	if l.resolver != nil {
		return strings.Contains(strings.ToLower(l.resolver.DisplayName(m.AuthorID)), query)
	}
	return false
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
