package coord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-core/internal/domain"
	"github.com/cwrk-planet/chat-core/internal/msglog"
	"github.com/cwrk-planet/chat-core/internal/msglog/memstore"
	"github.com/cwrk-planet/chat-core/internal/reaction"
	"github.com/cwrk-planet/chat-core/internal/room"
	"github.com/cwrk-planet/chat-core/internal/session"
	"github.com/cwrk-planet/chat-core/internal/typing"
)

var (
	alice = domain.Identity{ID: "u1", DisplayName: "Alice"}
	bob   = domain.Identity{ID: "u2", DisplayName: "Bob"}
	carol = domain.Identity{ID: "u3", DisplayName: "Carol"}
)

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()

	log := msglog.New(memstore.New())
	c, err := New(
		session.NewRegistry(),
		room.NewDirectory(nil),
		log,
		reaction.NewAggregator(log),
		typing.NewTracker(typing.WithWindow(30*time.Millisecond)),
		opts...,
	)
	require.NoError(t, err)
	return c
}

// drain снимает всё, что уже лежит в очереди подписки, не блокируясь.
func drain(sub *Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(events []domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind())
	}
	return out
}

func TestConnectLandsInDefaultRoom(t *testing.T) {
	c := newTestCoordinator(t)

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	require.NotNil(t, hA)

	// подписка заводится до emit — собственный PresenceChanged виден
	events := drain(subA)
	require.Len(t, events, 1)
	pc, ok := events[0].(domain.PresenceChanged)
	require.True(t, ok)
	assert.Equal(t, c.DefaultRoom(), pc.RoomID)
	assert.Equal(t, "u1", pc.Presence.IdentityID)
	assert.Equal(t, domain.StatusOnline, pc.Presence.Status)

	// второй connect той же identity отклоняется
	_, _, err = c.Connect(alice)
	require.ErrorIs(t, err, domain.ErrDuplicateSession)

	rm, err := c.Room(c.DefaultRoom())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, rm.Members)
}

func TestSupersedeReplacesSession(t *testing.T) {
	c := newTestCoordinator(t)

	hOld, subOld, err := c.Connect(alice)
	require.NoError(t, err)

	hNew, subNew, err := c.Supersede(alice)
	require.NoError(t, err)
	assert.NotEqual(t, hOld.ID, hNew.ID)

	// старая подписка закрыта вытеснением
	require.Eventually(t, func() bool {
		_, ok := <-subOld.Events()
		return !ok
	}, time.Second, 5*time.Millisecond)

	// новая сессия полноценна
	_, err = c.SendMessage(context.Background(), hNew, c.DefaultRoom(), domain.Body{Text: "back"})
	require.NoError(t, err)
	assert.NotEmpty(t, drain(subNew))
}

func TestSendMessageFanout(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	_, subB, err := c.Connect(bob)
	require.NoError(t, err)
	drain(subA)
	drain(subB)

	msg, err := c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, msg.Status)
	require.NotEmpty(t, msg.ID)

	for _, sub := range []*Subscription{subA, subB} {
		events := drain(sub)
		require.Len(t, events, 1)
		mr, ok := events[0].(domain.MessageReceived)
		require.True(t, ok)
		assert.Equal(t, msg.ID, mr.Message.ID)
		assert.Equal(t, "hello", mr.Message.Body.Text)
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	hA, _, err := c.Connect(alice)
	require.NoError(t, err)
	_, err = c.CreateRoom("dev")
	require.NoError(t, err)

	_, err = c.SendMessage(ctx, hA, "dev", domain.Body{Text: "sneak"})
	require.ErrorIs(t, err, domain.ErrNotAMember)

	// после disconnect команда отклоняется по сессии
	c.Disconnect(hA)
	_, err = c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "ghost"})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRoomIsolation(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	hB, subB, err := c.Connect(bob)
	require.NoError(t, err)

	_, err = c.CreateRoom("dev")
	require.NoError(t, err)
	require.NoError(t, c.JoinRoom(hB, "dev"))
	drain(subA)
	drain(subB)

	_, err = c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "general only"})
	require.NoError(t, err)

	assert.NotEmpty(t, drain(subA))
	assert.Empty(t, drain(subB), "событие чужой комнаты не должно доходить")
}

func TestJoinRoomMovesPresenceAndMembership(t *testing.T) {
	c := newTestCoordinator(t)

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	_, subB, err := c.Connect(bob)
	require.NoError(t, err)

	_, err = c.CreateRoom("dev")
	require.NoError(t, err)
	drain(subA)
	drain(subB)

	require.NoError(t, c.JoinRoom(hA, "dev"))

	// membership атомарно перенесена
	assert.Equal(t, []string{"u2"}, mustRoom(t, c, c.DefaultRoom()).Members)
	assert.Equal(t, []string{"u1"}, mustRoom(t, c, "dev").Members)

	// оставшийся в старой комнате видит уход
	eventsB := drain(subB)
	require.Len(t, eventsB, 1)
	pc := eventsB[0].(domain.PresenceChanged)
	assert.Equal(t, c.DefaultRoom(), pc.RoomID)
	assert.Equal(t, "u1", pc.Presence.IdentityID)

	// переехавшая подписка слушает уже новую комнату: из пары
	// presence-событий доходит только событие новой
	eventsA := drain(subA)
	require.Len(t, eventsA, 1)
	pcA := eventsA[0].(domain.PresenceChanged)
	assert.Equal(t, "dev", pcA.RoomID)

	// повторный join той же комнаты — no-op без событий
	require.NoError(t, c.JoinRoom(hA, "dev"))
	assert.Empty(t, drain(subA))

	// несуществующая комната
	require.ErrorIs(t, c.JoinRoom(hA, "ghost"), domain.ErrRoomNotFound)
}

func mustRoom(t *testing.T, c *Coordinator, id string) *domain.Room {
	t.Helper()
	rm, err := c.Room(id)
	require.NoError(t, err)
	return rm
}

func TestReactionToggleFanout(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	hB, _, err := c.Connect(bob)
	require.NoError(t, err)

	msg, err := c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "react to me"})
	require.NoError(t, err)
	drain(subA)

	require.NoError(t, c.React(ctx, hB, msg.ID, "👍"))
	events := drain(subA)
	require.Len(t, events, 1)
	rc := events[0].(domain.ReactionChanged)
	assert.Equal(t, map[string][]string{"👍": {"u2"}}, rc.Reactions)

	// повторный toggle снимает реакцию, событие с пустым набором
	require.NoError(t, c.React(ctx, hB, msg.ID, "👍"))
	events = drain(subA)
	require.Len(t, events, 1)
	rc = events[0].(domain.ReactionChanged)
	assert.Empty(t, rc.Reactions)

	require.ErrorIs(t, c.React(ctx, hB, "01AAAAAAAAAAAAAAAAAAAAAAA9", "👍"), domain.ErrMessageNotFound)
}

func TestMarkReadRules(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	hB, subB, err := c.Connect(bob)
	require.NoError(t, err)
	hC, _, err := c.Connect(carol)
	require.NoError(t, err)

	msg, err := c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "read me"})
	require.NoError(t, err)

	// автор не может продвигать своё сообщение
	require.ErrorIs(t, c.MarkRead(ctx, hA, msg.ID), domain.ErrInvalidTransition)

	// не-member не может
	_, err = c.CreateRoom("dev")
	require.NoError(t, err)
	require.NoError(t, c.JoinRoom(hC, "dev"))
	require.ErrorIs(t, c.MarkRead(ctx, hC, msg.ID), domain.ErrNotAMember)

	drain(subA)
	drain(subB)

	require.NoError(t, c.MarkDelivered(ctx, hB, msg.ID))
	require.NoError(t, c.MarkRead(ctx, hB, msg.ID))

	// статусные события адресованы только автору
	eventsA := drain(subA)
	require.Len(t, eventsA, 2)
	sc := eventsA[1].(domain.MessageStatusChanged)
	assert.Equal(t, domain.StatusRead, sc.Status)
	assert.Equal(t, msg.ID, sc.MessageID)
	assert.Empty(t, drain(subB))

	// повторный MarkRead — no-op без события
	require.NoError(t, c.MarkRead(ctx, hB, msg.ID))
	assert.Empty(t, drain(subA))

	// назад нельзя
	require.ErrorIs(t, c.MarkDelivered(ctx, hB, msg.ID), domain.ErrInvalidTransition)
}

func TestTypingLifecycle(t *testing.T) {
	c := newTestCoordinator(t)

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	_, subB, err := c.Connect(bob)
	require.NoError(t, err)
	drain(subA)
	drain(subB)

	require.NoError(t, c.SetTyping(hA, c.DefaultRoom(), true))

	// отправителю индикатор не шлём
	assert.Empty(t, drain(subA))
	events := drain(subB)
	require.Len(t, events, 1)
	tc := events[0].(domain.TypingChanged)
	assert.True(t, tc.Typing)
	assert.Equal(t, "u1", tc.IdentityID)

	typers, err := c.ListTyping(c.DefaultRoom())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, typers)

	// повторный true — освежение без события
	require.NoError(t, c.SetTyping(hA, c.DefaultRoom(), true))
	assert.Empty(t, drain(subB))

	// истечение окна рассылает false остальным членам комнаты
	require.Eventually(t, func() bool {
		for _, ev := range drain(subB) {
			if tc, ok := ev.(domain.TypingChanged); ok && !tc.Typing {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	typers, err = c.ListTyping(c.DefaultRoom())
	require.NoError(t, err)
	assert.Empty(t, typers)

	// печатавшему его собственное истечение не доставляется, как и
	// остальные его typing-события
	assert.Empty(t, drain(subA))
}

func TestSendClearsTyping(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	hA, _, err := c.Connect(alice)
	require.NoError(t, err)
	_, subB, err := c.Connect(bob)
	require.NoError(t, err)
	drain(subB)

	require.NoError(t, c.SetTyping(hA, c.DefaultRoom(), true))
	drain(subB)

	_, err = c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "done typing"})
	require.NoError(t, err)

	events := drain(subB)
	require.Len(t, events, 2)
	assert.Equal(t,
		[]domain.EventKind{domain.KindTypingChanged, domain.KindMessageReceived},
		kinds(events),
		"typing(false) идёт до самого сообщения")
}

func TestDisconnectCleansUp(t *testing.T) {
	c := newTestCoordinator(t)

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	_, subB, err := c.Connect(bob)
	require.NoError(t, err)
	require.NoError(t, c.SetTyping(hA, c.DefaultRoom(), true))
	drain(subB)

	c.Disconnect(hA)

	events := drain(subB)
	require.Len(t, events, 2)
	assert.Equal(t,
		[]domain.EventKind{domain.KindTypingChanged, domain.KindPresenceChanged},
		kinds(events))
	pc := events[1].(domain.PresenceChanged)
	assert.Equal(t, domain.StatusOffline, pc.Presence.Status)

	assert.NotContains(t, mustRoom(t, c, c.DefaultRoom()).Members, "u1")

	// подписка ушедшего закрыта
	require.Eventually(t, func() bool {
		_, ok := <-subA.Events()
		return !ok
	}, time.Second, 5*time.Millisecond)

	// повторный disconnect — no-op
	c.Disconnect(hA)
	assert.Empty(t, drain(subB))
}

func TestDisconnectRaceWithJoin(t *testing.T) {
	c := newTestCoordinator(t)

	_, err := c.CreateRoom("dev")
	require.NoError(t, err)

	// disconnect наперегонки с join: какая бы команда ни выиграла,
	// membership идентичности не должна уцелеть ни в одной комнате
	for i := 0; i < 200; i++ {
		hA, subA, err := c.Connect(alice)
		require.NoError(t, err)
		drain(subA)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.JoinRoom(hA, "dev")
		}()
		go func() {
			defer wg.Done()
			c.Disconnect(hA)
		}()
		wg.Wait()

		assert.NotContains(t, mustRoom(t, c, c.DefaultRoom()).Members, "u1")
		assert.NotContains(t, mustRoom(t, c, "dev").Members, "u1")

		_, err = c.HandleOf("u1")
		require.ErrorIs(t, err, domain.ErrSessionNotFound)
	}
}

func TestQueryAndSearchValidation(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	hA, _, err := c.Connect(alice)
	require.NoError(t, err)

	_, err = c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "alpha"})
	require.NoError(t, err)
	_, err = c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "beta"})
	require.NoError(t, err)

	msgs, err := c.QueryMessages(ctx, hA, c.DefaultRoom(), "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	msgs, err = c.QueryMessages(ctx, hA, c.DefaultRoom(), msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "beta", msgs[0].Body.Text)

	_, err = c.QueryMessages(ctx, hA, "ghost", "", 10)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)

	found, err := c.SearchMessages(ctx, hA, c.DefaultRoom(), "ALPHA")
	require.NoError(t, err)
	require.Len(t, found, 1)

	_, err = c.SearchMessages(ctx, hA, "ghost", "alpha")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	c := newTestCoordinator(t, WithSubscriberBuffer(2))
	ctx := context.Background()

	hA, subA, err := c.Connect(alice)
	require.NoError(t, err)
	_, subB, err := c.Connect(bob)
	require.NoError(t, err)
	drain(subA)

	// subB никто не читает; очередь в 2 события переполняется
	for i := 0; i < 5; i++ {
		_, err = c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "flood"})
		require.NoError(t, err)
		drain(subA)
	}

	require.Eventually(t, func() bool {
		for {
			ev, ok := <-subB.Events()
			if !ok {
				return true // канал закрыт — подписчик вытеснен
			}
			_ = ev
		}
	}, time.Second, 5*time.Millisecond)

	// отправитель не пострадал
	_, err = c.SendMessage(ctx, hA, c.DefaultRoom(), domain.Body{Text: "still here"})
	require.NoError(t, err)
}
