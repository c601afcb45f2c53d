// Package coord — Coordinator: единая точка входа для команд и
// room-ordered рассылки событий.
package coord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cwrk-planet/chat-core/internal/domain"
	"github.com/cwrk-planet/chat-core/internal/msglog"
	"github.com/cwrk-planet/chat-core/internal/reaction"
	"github.com/cwrk-planet/chat-core/internal/room"
	"github.com/cwrk-planet/chat-core/internal/session"
	"github.com/cwrk-planet/chat-core/internal/typing"
)

const DefaultRoomName = "general"

// Coordinator сериализует команды по комнатам: один mutex-домен на
// комнату, команды разных комнат идут параллельно. Внутри комнаты
// порядок событий совпадает с порядком зафиксированных мутаций.
type Coordinator struct {
	sessions  *session.Registry
	rooms     *room.Directory
	log       *msglog.Log
	reactions *reaction.Aggregator
	typing    *typing.Tracker
	hub       *Hub

	defaultRoom string

	mu      sync.Mutex
	roomMus map[string]*sync.Mutex
}

type Option func(*options)

type options struct {
	defaultRoomName  string
	subscriberBuffer int
}

func WithDefaultRoom(name string) Option {
	return func(o *options) {
		if name != "" {
			o.defaultRoomName = name
		}
	}
}

func WithSubscriberBuffer(n int) Option {
	return func(o *options) { o.subscriberBuffer = n }
}

func New(
	sessions *session.Registry,
	rooms *room.Directory,
	log *msglog.Log,
	reactions *reaction.Aggregator,
	tracker *typing.Tracker,
	opts ...Option,
) (*Coordinator, error) {
	o := options{defaultRoomName: DefaultRoomName}
	for _, opt := range opts {
		opt(&o)
	}

	// well-known default room существует со старта сервиса
	def, err := rooms.Create(o.defaultRoomName)
	if err != nil {
		return nil, fmt.Errorf("create default room: %w", err)
	}

	c := &Coordinator{
		sessions:    sessions,
		rooms:       rooms,
		log:         log,
		reactions:   reactions,
		typing:      tracker,
		hub:         NewHub(o.subscriberBuffer),
		defaultRoom: def.ID,
		roomMus:     make(map[string]*sync.Mutex),
	}
	c.hub.OnDropped(func(*Subscription) { subscribersDropped.Inc() })

	// истечение typing-окна — единственный таймерный переход состояния;
	// broadcast идёт под блокировкой комнаты, чтобы сохранить порядок.
	// Сам печатавший, как и при SetTyping, своё событие не получает.
	tracker.OnExpire(func(roomID, identityID string) {
		unlock := c.lockRooms(roomID)
		c.emit(domain.TypingChanged{RoomID: roomID, IdentityID: identityID, Typing: false},
			func(s *Subscription) bool { return s.Identity() != identityID })
		unlock()
	})

	return c, nil
}

func (c *Coordinator) DefaultRoom() string { return c.defaultRoom }

// Connect регистрирует identity как Online в default-комнате и
// возвращает handle вместе с room-scoped подпиской на события.
func (c *Coordinator) Connect(identity domain.Identity) (h *session.Handle, sub *Subscription, err error) {
	defer func() { observeCommand("connect", err) }()

	unlock := c.lockRooms(c.defaultRoom)
	defer unlock()

	h, err = c.sessions.Connect(identity, c.defaultRoom)
	if err != nil {
		return nil, nil, err
	}
	if err = c.rooms.Join(c.defaultRoom, identity.ID); err != nil {
		return nil, nil, err
	}
	sub = c.hub.Subscribe(h.ID, identity.ID, c.defaultRoom)

	presence, _ := c.sessions.Presence(h)
	c.emit(domain.PresenceChanged{RoomID: c.defaultRoom, Presence: presence}, nil)

	slog.Info("session connected", "identity", identity.ID, "room", c.defaultRoom)
	return h, sub, nil
}

// Supersede — явный reconnect: сначала полный Disconnect старой сессии
// identity (со всеми событиями и закрытием подписок), затем обычный
// Connect.
func (c *Coordinator) Supersede(identity domain.Identity) (*session.Handle, *Subscription, error) {
	if old, ok := c.sessions.HandleOf(identity.ID); ok {
		c.Disconnect(old)
	}
	return c.Connect(identity)
}

// Disconnect идемпотентен: повторный или устаревший handle — no-op.
func (c *Coordinator) Disconnect(h *session.Handle) {
	var (
		roomID string
		unlock func()
	)
	// комнату сессии нельзя читать до взятия её лока: параллельный
	// JoinRoom успеет перенести сессию, и мы вычистим не ту комнату.
	// Берём лок и перепроверяем, что сессия всё ещё в ней.
	for {
		cur, err := c.sessions.Room(h)
		if err != nil {
			observeCommand("disconnect", nil) // idempotent no-op
			return
		}
		unlock = c.lockRooms(cur)
		if got, err := c.sessions.Room(h); err == nil && got == cur {
			roomID = cur
			break
		} else if err != nil {
			unlock()
			observeCommand("disconnect", nil)
			return
		}
		unlock()
	}

	presence, ok := c.sessions.Disconnect(h)
	if !ok {
		unlock()
		observeCommand("disconnect", nil)
		return
	}
	c.rooms.Leave(roomID, h.Identity.ID)
	wasTyping := c.typing.Stop(roomID, h.Identity.ID)
	if wasTyping {
		c.emit(domain.TypingChanged{RoomID: roomID, IdentityID: h.Identity.ID, Typing: false}, nil)
	}
	c.emit(domain.PresenceChanged{RoomID: roomID, Presence: presence}, nil)
	unlock()

	c.hub.CloseSession(h.ID)
	observeCommand("disconnect", nil)
	slog.Info("session disconnected", "identity", h.Identity.ID, "room", roomID)
}

// HandleOf возвращает активный handle identity (для транспортов,
// приходящих без него, например REST поверх живой WS-сессии).
func (c *Coordinator) HandleOf(identityID string) (*session.Handle, error) {
	h, ok := c.sessions.HandleOf(identityID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return h, nil
}

func (c *Coordinator) Heartbeat(h *session.Handle) error {
	err := c.sessions.Heartbeat(h)
	observeCommand("heartbeat", err)
	return err
}

// TouchHeartbeat — best-effort heartbeat по identity id; нет сессии —
// no-op.
func (c *Coordinator) TouchHeartbeat(identityID string) {
	if h, ok := c.sessions.HandleOf(identityID); ok {
		_ = c.Heartbeat(h)
	}
}

// CreateRoom — идемпотентное создание комнаты (slug id). Событий не
// эмитит: комната становится видимой через Rooms().
func (c *Coordinator) CreateRoom(name string) (*domain.Room, error) {
	rm, err := c.rooms.Create(name)
	observeCommand("create_room", err)
	return rm, err
}

func (c *Coordinator) Rooms() []domain.Room {
	return c.rooms.List()
}

func (c *Coordinator) Room(roomID string) (*domain.Room, error) {
	return c.rooms.Get(roomID)
}

// JoinRoom атомарно переносит presence и membership в целевую комнату и
// перевешивает подписки сессии. Старая комната получает
// PresenceChanged(leave), новая — PresenceChanged(join).
func (c *Coordinator) JoinRoom(h *session.Handle, roomID string) (err error) {
	defer func() { observeCommand("join_room", err) }()

	if !c.rooms.Exists(roomID) {
		return domain.ErrRoomNotFound
	}

	// как и в Disconnect: исходную комнату фиксируем только под её локом
	var (
		oldRoom string
		unlock  func()
	)
	for {
		cur, err := c.sessions.Room(h)
		if err != nil {
			return err
		}
		if cur == roomID {
			return nil // уже member — no-op
		}
		unlock = c.lockRooms(cur, roomID)
		if got, err := c.sessions.Room(h); err == nil && got == cur {
			oldRoom = cur
			break
		} else if err != nil {
			unlock()
			return err
		}
		unlock()
	}
	defer unlock()

	if err = c.rooms.Move(oldRoom, roomID, h.Identity.ID); err != nil {
		return err
	}
	if err = c.sessions.SetRoom(h, roomID); err != nil {
		// сессия закрылась между валидацией и мутацией; откат membership
		c.rooms.Leave(roomID, h.Identity.ID)
		return err
	}
	c.hub.MoveSession(h.ID, roomID)

	if c.typing.Stop(oldRoom, h.Identity.ID) {
		c.emit(domain.TypingChanged{RoomID: oldRoom, IdentityID: h.Identity.ID, Typing: false}, nil)
	}

	presence, _ := c.sessions.Presence(h)
	c.emit(domain.PresenceChanged{RoomID: oldRoom, Presence: presence}, nil)
	c.emit(domain.PresenceChanged{RoomID: roomID, Presence: presence}, nil)
	return nil
}

// SendMessage добавляет сообщение в лог комнаты отправителя и рассылает
// MessageReceived всем её членам.
func (c *Coordinator) SendMessage(ctx context.Context, h *session.Handle, roomID string, body domain.Body) (msg *domain.Message, err error) {
	defer func() { observeCommand("send_message", err) }()

	unlock := c.lockRooms(roomID)
	defer unlock()

	// membership проверяется под локом комнаты, иначе параллельный
	// JoinRoom/Disconnect обесценит проверку до вставки
	cur, err := c.sessions.Room(h)
	if err != nil {
		return nil, err
	}
	if cur != roomID {
		return nil, fmt.Errorf("%w: sending to %q from %q", domain.ErrNotAMember, roomID, cur)
	}

	msg, err = c.log.Append(ctx, roomID, h.Identity.ID, body)
	if err != nil {
		return nil, err
	}
	// отправка снимает typing-индикатор отправителя
	if c.typing.Stop(roomID, h.Identity.ID) {
		c.emit(domain.TypingChanged{RoomID: roomID, IdentityID: h.Identity.ID, Typing: false}, nil)
	}
	c.emit(domain.MessageReceived{Message: *msg}, nil)
	return msg, nil
}

// SetTyping включает/выключает typing-индикатор. TypingChanged уходит
// только остальным членам комнаты и только на реальном переходе.
func (c *Coordinator) SetTyping(h *session.Handle, roomID string, isTyping bool) (err error) {
	defer func() { observeCommand("set_typing", err) }()

	unlock := c.lockRooms(roomID)
	defer unlock()

	cur, err := c.sessions.Room(h)
	if err != nil {
		return err
	}
	if cur != roomID {
		return domain.ErrNotAMember
	}

	var changed bool
	if isTyping {
		changed = c.typing.Start(roomID, h.Identity.ID)
	} else {
		changed = c.typing.Stop(roomID, h.Identity.ID)
	}
	if changed {
		c.emit(domain.TypingChanged{RoomID: roomID, IdentityID: h.Identity.ID, Typing: isTyping},
			func(s *Subscription) bool { return s.Identity() != h.Identity.ID })
	}
	return nil
}

// React toggle-ит реакцию и рассылает ReactionChanged членам комнаты
// сообщения.
func (c *Coordinator) React(ctx context.Context, h *session.Handle, messageID, emoji string) (err error) {
	defer func() { observeCommand("react", err) }()

	if _, err = c.sessions.Room(h); err != nil {
		return err
	}
	msg, err := c.log.Get(ctx, messageID)
	if err != nil {
		return err
	}

	unlock := c.lockRooms(msg.RoomID)
	defer unlock()

	reactions, err := c.reactions.Toggle(ctx, messageID, h.Identity.ID, emoji)
	if err != nil {
		return err
	}
	c.emit(domain.ReactionChanged{RoomID: msg.RoomID, MessageID: messageID, Reactions: reactions}, nil)
	return nil
}

// MarkDelivered переводит чужое сообщение в Delivered.
func (c *Coordinator) MarkDelivered(ctx context.Context, h *session.Handle, messageID string) error {
	err := c.markStatus(ctx, h, messageID, domain.StatusDelivered)
	observeCommand("mark_delivered", err)
	return err
}

// MarkRead переводит чужое сообщение в Read. Автор не может отметить
// своё сообщение прочитанным.
func (c *Coordinator) MarkRead(ctx context.Context, h *session.Handle, messageID string) error {
	err := c.markStatus(ctx, h, messageID, domain.StatusRead)
	observeCommand("mark_read", err)
	return err
}

func (c *Coordinator) markStatus(ctx context.Context, h *session.Handle, messageID string, status domain.MessageStatus) error {
	if _, err := c.sessions.Room(h); err != nil {
		return err
	}
	// Get до лока нужен только чтобы узнать комнату сообщения;
	// membership и авторство проверяются уже под её локом
	msg, err := c.log.Get(ctx, messageID)
	if err != nil {
		return err
	}

	unlock := c.lockRooms(msg.RoomID)
	defer unlock()

	if !c.rooms.IsMember(msg.RoomID, h.Identity.ID) {
		return domain.ErrNotAMember
	}
	if msg.AuthorID == h.Identity.ID {
		return fmt.Errorf("%w: author cannot advance own message", domain.ErrInvalidTransition)
	}

	updated, changed, err := c.log.AdvanceStatus(ctx, messageID, status)
	if err != nil {
		return err
	}
	if changed {
		// статус интересен только автору
		c.emit(domain.MessageStatusChanged{
			RoomID:    updated.RoomID,
			MessageID: updated.ID,
			AuthorID:  updated.AuthorID,
			Status:    updated.Status,
		}, func(s *Subscription) bool { return s.Identity() == updated.AuthorID })
	}
	return nil
}

// QueryMessages — страница лога комнаты строго после sinceID.
func (c *Coordinator) QueryMessages(ctx context.Context, h *session.Handle, roomID, sinceID string, limit int) (msgs []domain.Message, err error) {
	defer func() { observeCommand("query_messages", err) }()

	if _, err = c.sessions.Room(h); err != nil {
		return nil, err
	}
	if !c.rooms.Exists(roomID) {
		return nil, domain.ErrRoomNotFound
	}
	return c.log.Query(ctx, roomID, sinceID, limit)
}

// SearchMessages — регистронезависимый поиск по комнате.
func (c *Coordinator) SearchMessages(ctx context.Context, h *session.Handle, roomID, query string) (msgs []domain.Message, err error) {
	defer func() { observeCommand("search_messages", err) }()

	if _, err = c.sessions.Room(h); err != nil {
		return nil, err
	}
	if !c.rooms.Exists(roomID) {
		return nil, domain.ErrRoomNotFound
	}
	return c.log.Search(ctx, roomID, query)
}

// ListPresence — снапшот presence комнаты.
func (c *Coordinator) ListPresence(roomID string) ([]domain.Presence, error) {
	if !c.rooms.Exists(roomID) {
		return nil, domain.ErrRoomNotFound
	}
	return c.sessions.ListPresence(roomID), nil
}

// ListTyping — кто сейчас печатает в комнате.
func (c *Coordinator) ListTyping(roomID string) ([]string, error) {
	if !c.rooms.Exists(roomID) {
		return nil, domain.ErrRoomNotFound
	}
	return c.typing.List(roomID), nil
}

func (c *Coordinator) emit(ev domain.Event, filter func(*Subscription) bool) {
	eventsTotal.WithLabelValues(string(ev.Kind())).Inc()
	c.hub.Broadcast(ev.Room(), ev, filter)
}

// lockRooms берёт mutex-домены комнат в стабильном порядке (защита от
// deadlock при парных операциях) и возвращает unlock.
func (c *Coordinator) lockRooms(roomIDs ...string) func() {
	ids := append([]string(nil), roomIDs...)
	if len(ids) == 2 && ids[1] < ids[0] {
		ids[0], ids[1] = ids[1], ids[0]
	}

	mus := make([]*sync.Mutex, len(ids))
	for i, id := range ids {
		mus[i] = c.roomMu(id)
		mus[i].Lock()
	}
	return func() {
		for i := len(mus) - 1; i >= 0; i-- {
			mus[i].Unlock()
		}
	}
}

func (c *Coordinator) roomMu(roomID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	mu, ok := c.roomMus[roomID]
	if !ok {
		mu = &sync.Mutex{}
		c.roomMus[roomID] = mu
	}
	return mu
}
