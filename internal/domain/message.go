package domain

import "time"

// MessageStatus — forward-only: Sent -> Delivered -> Read.
type MessageStatus int

const (
	StatusSent MessageStatus = iota
	StatusDelivered
	StatusRead
)

func (s MessageStatus) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

func ParseMessageStatus(s string) (MessageStatus, bool) {
	switch s {
	case "sent":
		return StatusSent, true
	case "delivered":
		return StatusDelivered, true
	case "read":
		return StatusRead, true
	default:
		return 0, false
	}
}

// Attachment — ссылка на загруженный файл; байты файла ядро не хранит.
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url"`
}

// Body — текст и/или attachment.
type Body struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

func (b Body) Empty() bool {
	return b.Text == "" && b.Attachment == nil
}

// Message принадлежит Message Log. После append неизменяемо всё, кроме
// Status (только вперёд) и Reactions (toggle).
type Message struct {
	ID        string        `json:"id"` // ULID: сортируется лексикографически по времени
	RoomID    string        `json:"room_id"`
	AuthorID  string        `json:"author_id"`
	Body      Body          `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
	Status    MessageStatus `json:"status"`

	// Reactions: emoji -> identity ids. Не более одной записи на
	// (identity, emoji).
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// Clone возвращает глубокую копию: лог никогда не отдаёт наружу
// разделяемые reactions-срезы.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Reactions != nil {
		cp.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, ids := range m.Reactions {
			cp.Reactions[emoji] = append([]string(nil), ids...)
		}
	}
	if m.Body.Attachment != nil {
		att := *m.Body.Attachment
		cp.Body.Attachment = &att
	}
	return &cp
}

// HasReaction reports whether identity already reacted with emoji.
func (m *Message) HasReaction(identityID, emoji string) bool {
	for _, id := range m.Reactions[emoji] {
		if id == identityID {
			return true
		}
	}
	return false
}
