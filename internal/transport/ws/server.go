package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/chat-core/internal/coord"
	"github.com/cwrk-planet/chat-core/internal/domain"
	"github.com/cwrk-planet/chat-core/internal/session"

	"github.com/gorilla/websocket"
)

type TokenVerifier interface {
	Verify(token string) (identityID string, err error)
}

type IdentityDirectory interface {
	Get(identityID string) (domain.Identity, error)
}

const stateMessages = 50

type Server struct {
	upgrader websocket.Upgrader
	coord    *coord.Coordinator
	ids      IdentityDirectory
	verifier TokenVerifier

	pingEvery time.Duration
}

func NewServer(c *coord.Coordinator, ids IdentityDirectory, verifier TokenVerifier) *Server {
	return &Server{
		coord:    c,
		ids:      ids,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws?access_token=...&supersede=1
// Токен в query: браузерный WebSocket не умеет свои заголовки.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accessToken := strings.TrimSpace(q.Get("access_token"))
	if accessToken == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}
	identityID, err := s.verifier.Verify(accessToken)
	if err != nil {
		http.Error(w, "invalid access_token", http.StatusUnauthorized)
		return
	}
	identity, err := s.ids.Get(identityID)
	if err != nil {
		http.Error(w, "unknown identity", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	var (
		h   *session.Handle
		sub *coord.Subscription
	)
	if q.Get("supersede") == "1" {
		h, sub, err = s.coord.Supersede(identity)
	} else {
		h, sub, err = s.coord.Connect(identity)
	}
	if err != nil {
		c := newWsConn(conn, identity.ID)
		_ = c.Send(Message{Type: TypeError, Payload: ErrorPayload{Command: "connect", Error: err.Error()}})
		_ = c.Close()
		return
	}

	c := newWsConn(conn, identity.ID)
	c.roomID = s.coord.DefaultRoom()

	if err := s.sendState(r.Context(), c, h); err != nil {
		slog.Warn("ws send initial state failed", "identity", identity.ID, "err", err)
	}

	go s.writeLoop(r.Context(), c, h, sub)
	s.readLoop(r.Context(), c, h)

	s.coord.Disconnect(h)

	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "identity", identity.ID, "err", err)
	}
}

// sendState шлёт снапшот текущей комнаты: кто онлайн, последние
// сообщения, кто печатает. Клиент рендерит его до первого события.
func (s *Server) sendState(ctx context.Context, c *wsConn, h *session.Handle) error {
	presence, err := s.coord.ListPresence(c.roomID)
	if err != nil {
		return err
	}
	msgs, err := s.coord.QueryMessages(ctx, h, c.roomID, "", stateMessages)
	if err != nil {
		return err
	}
	typing, err := s.coord.ListTyping(c.roomID)
	if err != nil {
		return err
	}

	items := make([]PresencePayload, 0, len(presence))
	for _, p := range presence {
		items = append(items, toPresencePayload(c.roomID, p))
	}
	history := make([]MessageItem, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, toMessageItem(m))
	}

	return c.Send(Message{
		Type: TypeState,
		Payload: StatePayload{
			RoomID:   c.roomID,
			Presence: items,
			Messages: history,
			Typing:   typing,
		},
	})
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, h *session.Handle) {
	defer func() { _ = c.Close() }()

	_ = s.coord.Heartbeat(h)

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		_ = s.coord.Heartbeat(h)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.dispatch(ctx, c, h, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, h *session.Handle, msg Message) {
	switch msg.Type {
	case TypeChat:
		var p ChatPayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		roomID := p.RoomID
		if roomID == "" {
			roomID = c.roomID
		}
		m, err := s.coord.SendMessage(ctx, h, roomID, domain.Body{Text: p.Text, Attachment: p.Attachment})
		if err != nil {
			s.sendError(c, msg.Type, err)
			return
		}
		// ACK только отправителю: само сообщение придёт broadcast-ом.
		_ = c.Send(Message{Type: TypeChatAck, Payload: ChatAckPayload{MsgID: m.ID}})

	case TypeJoin:
		var p JoinPayload
		if decode(msg.Payload, &p) != nil || p.RoomID == "" {
			return
		}
		if err := s.coord.JoinRoom(h, p.RoomID); err != nil {
			s.sendError(c, msg.Type, err)
			return
		}
		c.roomID = p.RoomID
		if err := s.sendState(ctx, c, h); err != nil {
			slog.Warn("ws send state after join failed", "identity", c.identityID, "room", p.RoomID, "err", err)
		}

	case TypeTyping:
		var p TypingPayload
		if decode(msg.Payload, &p) != nil {
			return
		}
		roomID := p.RoomID
		if roomID == "" {
			roomID = c.roomID
		}
		if err := s.coord.SetTyping(h, roomID, p.Typing); err != nil {
			s.sendError(c, msg.Type, err)
		}

	case TypeReact:
		var p ReactPayload
		if decode(msg.Payload, &p) != nil || p.MessageID == "" || p.Emoji == "" {
			return
		}
		if err := s.coord.React(ctx, h, p.MessageID, p.Emoji); err != nil {
			s.sendError(c, msg.Type, err)
		}

	case TypeMarkRead:
		var p MarkReadPayload
		if decode(msg.Payload, &p) != nil || p.MessageID == "" {
			return
		}
		if err := s.coord.MarkRead(ctx, h, p.MessageID); err != nil {
			s.sendError(c, msg.Type, err)
		}

	default:
		// ignore
	}
}

func (s *Server) sendError(c *wsConn, command string, err error) {
	_ = c.Send(Message{Type: TypeError, Payload: ErrorPayload{Command: command, Error: err.Error()}})
}

// writeLoop качает события подписки в сокет и пингует клиента.
// Закрытие канала подписки (например, при вытеснении медленного
// подписчика) завершает соединение.
func (s *Server) writeLoop(ctx context.Context, c *wsConn, h *session.Handle, sub *coord.Subscription) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				_ = c.Close()
				return
			}
			if err := c.Send(eventFrame(ev)); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			_ = s.coord.Heartbeat(h)
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

type wsConn struct {
	conn       *websocket.Conn
	identityID string
	roomID     string // текущая комната, меняется на join
	sendMu     chan struct{}
	closed     chan struct{}
}

func newWsConn(c *websocket.Conn, identityID string) *wsConn {
	return &wsConn{
		conn:       c,
		identityID: identityID,
		sendMu:     make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	return c.conn.Close()
}
