// Package room владеет набором комнат и их membership.
package room

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-core/internal/domain"
)

type roomState struct {
	room    domain.Room
	members map[string]struct{}
}

// Directory — in-memory каталог комнат. Комнаты не удаляются.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*roomState // slug id -> state
	now   func() time.Time
}

func NewDirectory(now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{
		rooms: make(map[string]*roomState),
		now:   now,
	}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9-]+`)

// Slug детерминированно выводит id из имени: lowercase, пробелы -> "-".
// Повторный create с тем же именем попадает в ту же комнату.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), "-")
	s = slugStrip.ReplaceAllString(s, "")
	return strings.Trim(s, "-")
}

// Create — идемпотентное создание: если slug уже занят комнатой с тем же
// (case-insensitive) именем, возвращается существующая комната. Коллизия
// slug-а с другим именем — ErrDuplicateRoomName.
func (d *Directory) Create(name string) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	id := Slug(name)
	if id == "" {
		return nil, domain.ErrEmptyRoomName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if st, ok := d.rooms[id]; ok {
		if strings.EqualFold(st.room.Name, name) {
			return d.snapshot(st), nil
		}
		return nil, fmt.Errorf("%w: slug %q", domain.ErrDuplicateRoomName, id)
	}

	st := &roomState{
		room: domain.Room{
			ID:        id,
			Name:      name,
			CreatedAt: d.now().UTC(),
		},
		members: make(map[string]struct{}),
	}
	d.rooms[id] = st
	return d.snapshot(st), nil
}

func (d *Directory) Get(id string) (*domain.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return d.snapshot(st), nil
}

func (d *Directory) Exists(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[id]
	return ok
}

// List возвращает все комнаты, отсортированные по времени создания.
func (d *Directory) List() []domain.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.Room, 0, len(d.rooms))
	for _, st := range d.rooms {
		out = append(out, *d.snapshot(st))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Join добавляет identity в комнату. No-op, если уже member.
func (d *Directory) Join(roomID, identityID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	st.members[identityID] = struct{}{}
	return nil
}

// Move атомарно переносит identity из from в to: обе membership
// изменяются под одной блокировкой, промежуточное состояние снаружи не
// наблюдаемо.
func (d *Directory) Move(fromID, toID, identityID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	to, ok := d.rooms[toID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if from, ok := d.rooms[fromID]; ok {
		delete(from.members, identityID)
	}
	to.members[identityID] = struct{}{}
	return nil
}

// Leave убирает identity из комнаты (используется на disconnect,
// destination не требуется).
func (d *Directory) Leave(roomID, identityID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st, ok := d.rooms[roomID]; ok {
		delete(st.members, identityID)
	}
}

func (d *Directory) IsMember(roomID, identityID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = st.members[identityID]
	return ok
}

// Members — снапшот membership в детерминированном порядке.
func (d *Directory) Members(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	return sortedMembers(st)
}

func (d *Directory) snapshot(st *roomState) *domain.Room {
	cp := st.room
	cp.Members = sortedMembers(st)
	return &cp
}

func sortedMembers(st *roomState) []string {
	out := make([]string, 0, len(st.members))
	for id := range st.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
