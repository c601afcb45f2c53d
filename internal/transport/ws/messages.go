package ws

import (
	"github.com/cwrk-planet/chat-core/internal/domain"
)

// Типы кадров. Клиент шлёт команды, сервер — события комнаты.
const (
	// client -> server
	TypeChat     = "chat"      // отправить сообщение
	TypeJoin     = "join"      // переключить комнату
	TypeTyping   = "typing"    // typing start/stop
	TypeReact    = "react"     // toggle реакции
	TypeMarkRead = "mark_read" // отметить чужое сообщение прочитанным

	// server -> client
	TypeState         = "state"          // снапшот комнаты после connect/join
	TypeMessage       = "message"        // MessageReceived
	TypeMessageStatus = "message_status" // MessageStatusChanged
	TypeReaction      = "reaction"       // ReactionChanged
	TypeTypingChanged = "typing_changed" // TypingChanged
	TypePresence      = "presence"       // PresenceChanged
	TypeChatAck       = "chat_ack"       // подтверждение отправки (НЕ сообщение)
	TypeError         = "error"          // отказ команды
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ChatPayload struct {
	RoomID     string             `json:"room_id"`
	Text       string             `json:"text,omitempty"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

type JoinPayload struct {
	RoomID string `json:"room_id"`
}

type TypingPayload struct {
	RoomID string `json:"room_id"`
	Typing bool   `json:"typing"`
}

type ReactPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type MarkReadPayload struct {
	MessageID string `json:"message_id"`
}

type MessageItem struct {
	ID         string              `json:"id"`
	RoomID     string              `json:"room_id"`
	AuthorID   string              `json:"author_id"`
	Text       string              `json:"text,omitempty"`
	Attachment *domain.Attachment  `json:"attachment,omitempty"`
	CreatedAt  int64               `json:"created_at_unix_ms"`
	Status     string              `json:"status"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
}

type PresencePayload struct {
	RoomID       string `json:"room_id"`
	IdentityID   string `json:"identity_id"`
	DisplayName  string `json:"display_name"`
	Status       string `json:"status"`
	LastActiveAt int64  `json:"last_active_at_unix"`
}

type TypingChangedPayload struct {
	RoomID     string `json:"room_id"`
	IdentityID string `json:"identity_id"`
	Typing     bool   `json:"typing"`
}

type ReactionPayload struct {
	RoomID    string              `json:"room_id"`
	MessageID string              `json:"message_id"`
	Reactions map[string][]string `json:"reactions"`
}

type MessageStatusPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type StatePayload struct {
	RoomID   string            `json:"room_id"`
	Presence []PresencePayload `json:"presence"`
	Messages []MessageItem     `json:"messages"`
	Typing   []string          `json:"typing,omitempty"`
}

type ChatAckPayload struct {
	MsgID string `json:"msg_id"`
}

type ErrorPayload struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

func toMessageItem(m domain.Message) MessageItem {
	return MessageItem{
		ID:         m.ID,
		RoomID:     m.RoomID,
		AuthorID:   m.AuthorID,
		Text:       m.Body.Text,
		Attachment: m.Body.Attachment,
		CreatedAt:  m.CreatedAt.UnixMilli(),
		Status:     m.Status.String(),
		Reactions:  m.Reactions,
	}
}

func toPresencePayload(roomID string, p domain.Presence) PresencePayload {
	return PresencePayload{
		RoomID:       roomID,
		IdentityID:   p.IdentityID,
		DisplayName:  p.DisplayName,
		Status:       string(p.Status),
		LastActiveAt: p.LastActiveAt.Unix(),
	}
}

// eventFrame переводит доменное событие в wire-кадр. Неизвестных видов
// не бывает: набор событий закрыт.
func eventFrame(ev domain.Event) Message {
	switch e := ev.(type) {
	case domain.MessageReceived:
		return Message{Type: TypeMessage, Payload: toMessageItem(e.Message)}
	case domain.MessageStatusChanged:
		return Message{Type: TypeMessageStatus, Payload: MessageStatusPayload{
			RoomID:    e.RoomID,
			MessageID: e.MessageID,
			Status:    e.Status.String(),
		}}
	case domain.ReactionChanged:
		return Message{Type: TypeReaction, Payload: ReactionPayload{
			RoomID:    e.RoomID,
			MessageID: e.MessageID,
			Reactions: e.Reactions,
		}}
	case domain.TypingChanged:
		return Message{Type: TypeTypingChanged, Payload: TypingChangedPayload{
			RoomID:     e.RoomID,
			IdentityID: e.IdentityID,
			Typing:     e.Typing,
		}}
	case domain.PresenceChanged:
		return Message{Type: TypePresence, Payload: toPresencePayload(e.RoomID, e.Presence)}
	default:
		return Message{Type: TypeError, Payload: ErrorPayload{Error: "unknown event"}}
	}
}
