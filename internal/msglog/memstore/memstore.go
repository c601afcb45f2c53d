// Package memstore — эталонная in-memory реализация msglog.Store.
// Используется по умолчанию и в тестах; презистентности не даёт.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cwrk-planet/chat-core/internal/domain"
)

type Store struct {
	mu    sync.RWMutex
	rooms map[string][]*domain.Message // в порядке append
	byID  map[string]*domain.Message
}

func New() *Store {
	return &Store{
		rooms: make(map[string][]*domain.Message),
		byID:  make(map[string]*domain.Message),
	}
}

func (s *Store) Append(_ context.Context, msg *domain.Message) error {
	cp := msg.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[cp.RoomID] = append(s.rooms[cp.RoomID], cp)
	s.byID[cp.ID] = cp
	return nil
}

func (s *Store) Update(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[msg.ID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	cur.Status = msg.Status
	cur.Reactions = msg.Clone().Reactions
	return nil
}

func (s *Store) Get(_ context.Context, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

func (s *Store) ListAfter(_ context.Context, roomID, sinceID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[roomID]
	start := 0
	if sinceID != "" {
		// лог отсортирован по id; ищем первую позицию строго после sinceID
		start = sort.Search(len(log), func(i int) bool { return log[i].ID > sinceID })
	}
	return s.copyRange(log, start, limit), nil
}

func (s *Store) ListRecent(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[roomID]
	start := 0
	if len(log) > limit {
		start = len(log) - limit
	}
	return s.copyRange(log, start, limit), nil
}

func (s *Store) copyRange(log []*domain.Message, start, limit int) []domain.Message {
	out := make([]domain.Message, 0, limit)
	for i := start; i < len(log) && len(out) < limit; i++ {
		out = append(out, *log[i].Clone())
	}
	return out
}
