// Package typing — короткоживущий room-scoped набор «сейчас печатает».
package typing

import (
	"sort"
	"sync"
	"time"
)

const defaultWindow = 5 * time.Second

type entry struct {
	expiresAt time.Time
	epoch     uint64
	timer     *time.Timer
}

// Tracker хранит typing-записи с авто-истечением. Истечение защищено от
// гонки с явным Stop epoch-токеном: таймер, сработавший после Stop или
// повторного Start, сравнивает свой epoch и молча выходит.
type Tracker struct {
	mu     sync.Mutex
	rooms  map[string]map[string]*entry // roomID -> identityID -> entry
	window time.Duration
	epoch  uint64
	now    func() time.Time

	// onExpire вызывается вне блокировки при истечении записи; ставится
	// Coordinator-ом для немедленного TypingChanged(false).
	onExpire func(roomID, identityID string)
}

type Option func(*Tracker)

func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		rooms:  make(map[string]map[string]*entry),
		window: defaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnExpire регистрирует callback истечения. Вызывать до начала работы.
func (t *Tracker) OnExpire(fn func(roomID, identityID string)) {
	t.onExpire = fn
}

// Start вставляет или освежает запись. Повторный Start сбрасывает
// таймер, а не наслаивает новый. Возвращает true, если identity ещё не
// печатала (переход NotTyping -> Typing).
func (t *Tracker) Start(roomID, identityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rm, ok := t.rooms[roomID]
	if !ok {
		rm = make(map[string]*entry)
		t.rooms[roomID] = rm
	}

	t.epoch++
	epoch := t.epoch

	e, existed := rm[identityID]
	if existed {
		e.timer.Stop()
	} else {
		e = &entry{}
		rm[identityID] = e
	}
	e.expiresAt = t.now().Add(t.window)
	e.epoch = epoch
	e.timer = time.AfterFunc(t.window, func() { t.expire(roomID, identityID, epoch) })
	return !existed
}

// Stop убирает запись немедленно. Возвращает true, если запись была.
func (t *Tracker) Stop(roomID, identityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(roomID, identityID)
}

func (t *Tracker) expire(roomID, identityID string, epoch uint64) {
	t.mu.Lock()
	e, ok := t.rooms[roomID][identityID]
	if !ok || e.epoch != epoch {
		// last writer wins: запись освежили или сняли после взвода таймера
		t.mu.Unlock()
		return
	}
	t.remove(roomID, identityID)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(roomID, identityID)
	}
}

func (t *Tracker) remove(roomID, identityID string) bool {
	rm, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	e, ok := rm[identityID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(rm, identityID)
	if len(rm) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}

// List возвращает identity, чьё окно ещё не истекло, в отсортированном
// порядке. Протухшие записи лениво выметаются здесь же; выметание — тот
// же переход Typing -> NotTyping, что и по таймеру, поэтому onExpire
// зовётся и для них (таймер, пришедший вторым, запись уже не найдёт).
func (t *Tracker) List(roomID string) []string {
	t.mu.Lock()

	rm := t.rooms[roomID]
	now := t.now()
	out := make([]string, 0, len(rm))
	var evicted []string
	for id, e := range rm {
		if e.expiresAt.After(now) {
			out = append(out, id)
		} else {
			t.remove(roomID, id)
			evicted = append(evicted, id)
		}
	}
	t.mu.Unlock()

	if t.onExpire != nil {
		for _, id := range evicted {
			t.onExpire(roomID, id)
		}
	}
	sort.Strings(out)
	return out
}
