package coord

import (
	"log/slog"
	"sync"

	"github.com/cwrk-planet/chat-core/internal/domain"
)

const defaultSubscriberBuffer = 64

// Subscription — room-scoped поток событий одного подписчика с
// ограниченной очередью. Медленный подписчик отключается, а не
// блокирует обработку команд (disconnect-on-overflow).
type Subscription struct {
	hub       *Hub
	sessionID string
	identity  string

	mu     sync.Mutex
	ch     chan domain.Event
	closed bool

	roomID string // guarded by hub.mu
}

// Events закрывается при Close и при переполнении очереди.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

func (s *Subscription) Identity() string { return s.identity }

func (s *Subscription) Close() {
	s.hub.remove(s)
	s.shut()
}

// send — неблокирующая доставка; false при переполнении.
func (s *Subscription) send(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub хранит подписки по комнатам и по сессиям. Смена комнаты сессии
// перевешивает все её подписки атомарно (под одной блокировкой с
// membership-переносом в Coordinator).
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*Subscription]struct{} // roomID -> set
	bySession map[string]map[*Subscription]struct{} // session handle id -> set

	buffer  int
	dropped func(*Subscription)
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		rooms:     make(map[string]map[*Subscription]struct{}),
		bySession: make(map[string]map[*Subscription]struct{}),
		buffer:    buffer,
	}
}

// OnDropped регистрирует hook для учёта отключённых подписчиков.
func (h *Hub) OnDropped(fn func(*Subscription)) {
	h.dropped = fn
}

func (h *Hub) Subscribe(sessionID, identityID, roomID string) *Subscription {
	s := &Subscription{
		hub:       h,
		sessionID: sessionID,
		identity:  identityID,
		ch:        make(chan domain.Event, h.buffer),
		roomID:    roomID,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(h.rooms, roomID, s)
	h.addLocked(h.bySession, sessionID, s)
	return s
}

// MoveSession перевешивает все подписки сессии на новую комнату.
func (h *Hub) MoveSession(sessionID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.bySession[sessionID] {
		h.removeLocked(h.rooms, s.roomID, s)
		s.roomID = roomID
		h.addLocked(h.rooms, roomID, s)
	}
}

// CloseSession закрывает и снимает все подписки сессии.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.bySession[sessionID]))
	for s := range h.bySession[sessionID] {
		subs = append(subs, s)
	}
	for _, s := range subs {
		h.removeLocked(h.rooms, s.roomID, s)
		h.removeLocked(h.bySession, s.sessionID, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.shut()
	}
}

// Broadcast доставляет событие подпискам комнаты, прошедшим filter
// (nil — всем). Доставка fire-and-forget относительно команды:
// переполненные подписки отключаются после прохода.
func (h *Hub) Broadcast(roomID string, ev domain.Event, filter func(*Subscription) bool) {
	var overflowed []*Subscription

	h.mu.RLock()
	for s := range h.rooms[roomID] {
		if filter != nil && !filter(s) {
			continue
		}
		if !s.send(ev) {
			overflowed = append(overflowed, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range overflowed {
		slog.Warn("dropping slow subscriber",
			"room", roomID, "identity", s.identity, "err", domain.ErrSubscriberOverloaded)
		s.Close()
		if h.dropped != nil {
			h.dropped(s)
		}
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(h.rooms, s.roomID, s)
	h.removeLocked(h.bySession, s.sessionID, s)
}

func (h *Hub) addLocked(m map[string]map[*Subscription]struct{}, key string, s *Subscription) {
	set, ok := m[key]
	if !ok {
		set = make(map[*Subscription]struct{})
		m[key] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) removeLocked(m map[string]map[*Subscription]struct{}, key string, s *Subscription) {
	if set, ok := m[key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}
