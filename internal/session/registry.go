// Package session отслеживает подключённые identity и их presence.
package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-core/internal/domain"

	"github.com/google/uuid"
)

const defaultAwayWindow = 60 * time.Second

// Handle — непрозрачный дескриптор активной сессии. Одна активная сессия
// на identity; reconnect — только через явный Supersede.
type Handle struct {
	ID       string
	Identity domain.Identity
}

type session struct {
	handle       Handle
	roomID       string
	lastActiveAt time.Time
}

// Registry — чистый in-memory state machine по presence. Комнатной
// membership не владеет (это Directory); хранит только текущую комнату
// сессии.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session // identity id -> session

	awayWindow time.Duration
	now        func() time.Time
}

type Option func(*Registry)

func WithAwayWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.awayWindow = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:   make(map[string]*session),
		awayWindow: defaultAwayWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect регистрирует identity в комнате roomID. Вторая попытка при
// живой сессии — ErrDuplicateSession.
func (r *Registry) Connect(identity domain.Identity, roomID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[identity.ID]; ok {
		return nil, domain.ErrDuplicateSession
	}
	return r.register(identity, roomID), nil
}

func (r *Registry) register(identity domain.Identity, roomID string) *Handle {
	s := &session{
		handle: Handle{
			ID:       uuid.NewString(),
			Identity: identity,
		},
		roomID:       roomID,
		lastActiveAt: r.now(),
	}
	r.sessions[identity.ID] = s
	h := s.handle
	return &h
}

// HandleOf возвращает активный handle identity, если сессия жива.
func (r *Registry) HandleOf(identityID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[identityID]
	if !ok {
		return nil, false
	}
	h := s.handle
	return &h, true
}

// Disconnect снимает сессию. Идемпотентен: повторный (или устаревший
// после Supersede) handle — no-op, вторым результатом false.
func (r *Registry) Disconnect(h *Handle) (domain.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[h.Identity.ID]
	if !ok || s.handle.ID != h.ID {
		return domain.Presence{}, false
	}
	delete(r.sessions, h.Identity.ID)

	return domain.Presence{
		IdentityID:   h.Identity.ID,
		DisplayName:  h.Identity.DisplayName,
		RoomID:       s.roomID,
		Status:       domain.StatusOffline,
		LastActiveAt: r.now(),
	}, true
}

// Heartbeat обновляет lastActiveAt; различает Online и Away без явного
// disconnect.
func (r *Registry) Heartbeat(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		return err
	}
	s.lastActiveAt = r.now()
	return nil
}

// Room возвращает текущую комнату сессии.
func (r *Registry) Room(h *Handle) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.lookup(h)
	if err != nil {
		return "", err
	}
	return s.roomID, nil
}

// SetRoom переключает текущую комнату сессии (вызывается вместе с
// Directory.Move под блокировкой комнаты в Coordinator-е).
func (r *Registry) SetRoom(h *Handle, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h)
	if err != nil {
		return err
	}
	s.roomID = roomID
	return nil
}

// Presence — снапшот presence одной сессии.
func (r *Registry) Presence(h *Handle) (domain.Presence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.lookup(h)
	if err != nil {
		return domain.Presence{}, err
	}
	return r.presenceOf(s), nil
}

// ListPresence — снапшот presence всех сессий комнаты, отсортированный
// по display name (затем по id). Не live view: за свежестью — события.
func (r *Registry) ListPresence(roomID string) []domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Presence
	for _, s := range r.sessions {
		if s.roomID == roomID {
			out = append(out, r.presenceOf(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].DisplayName), strings.ToLower(out[j].DisplayName)
		if a == b {
			return out[i].IdentityID < out[j].IdentityID
		}
		return a < b
	})
	return out
}

func (r *Registry) lookup(h *Handle) (*session, error) {
	s, ok := r.sessions[h.Identity.ID]
	if !ok || s.handle.ID != h.ID {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) presenceOf(s *session) domain.Presence {
	status := domain.StatusOnline
	if r.now().Sub(s.lastActiveAt) > r.awayWindow {
		status = domain.StatusAway
	}
	return domain.Presence{
		IdentityID:   s.handle.Identity.ID,
		DisplayName:  s.handle.Identity.DisplayName,
		RoomID:       s.roomID,
		Status:       status,
		LastActiveAt: s.lastActiveAt,
	}
}
