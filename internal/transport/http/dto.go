package http

import (
	"time"

	"github.com/cwrk-planet/chat-core/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	AccessToken string `json:"access_token"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type RoomItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Members   []string  `json:"members,omitempty"`
}

type RoomsListResponse struct {
	Items []RoomItem `json:"items"`
}

type JoinRoomResponse struct {
	RoomID     string `json:"room_id"`
	IdentityID string `json:"identity_id"`
}

type MessageItem struct {
	ID         string              `json:"id"`
	RoomID     string              `json:"room_id"`
	AuthorID   string              `json:"author_id"`
	Text       string              `json:"text,omitempty"`
	Attachment *domain.Attachment  `json:"attachment,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	Status     string              `json:"status"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
}

type MessagesResponse struct {
	Items []MessageItem `json:"items"`

	// NextAfter — курсор для следующей страницы (id последнего
	// сообщения); пусто, если страница неполная.
	NextAfter string `json:"next_after,omitempty"`
}

type PresenceItem struct {
	IdentityID   string    `json:"identity_id"`
	DisplayName  string    `json:"display_name"`
	Status       string    `json:"status"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type PresenceResponse struct {
	Items  []PresenceItem `json:"items"`
	Typing []string       `json:"typing,omitempty"`
}

func toRoomItem(r domain.Room) RoomItem {
	return RoomItem{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		Members:   r.Members,
	}
}

func toMessageItem(m domain.Message) MessageItem {
	return MessageItem{
		ID:         m.ID,
		RoomID:     m.RoomID,
		AuthorID:   m.AuthorID,
		Text:       m.Body.Text,
		Attachment: m.Body.Attachment,
		CreatedAt:  m.CreatedAt.Truncate(time.Millisecond),
		Status:     m.Status.String(),
		Reactions:  m.Reactions,
	}
}

func toPresenceItem(p domain.Presence) PresenceItem {
	return PresenceItem{
		IdentityID:   p.IdentityID,
		DisplayName:  p.DisplayName,
		Status:       string(p.Status),
		LastActiveAt: p.LastActiveAt,
	}
}
