package domain

// Закрытый набор событий, которые Coordinator рассылает подписчикам
// комнаты. Один вариант на вид события, никаких произвольных payload.

type EventKind string

const (
	KindMessageReceived      EventKind = "message_received"
	KindMessageStatusChanged EventKind = "message_status_changed"
	KindReactionChanged      EventKind = "reaction_changed"
	KindTypingChanged        EventKind = "typing_changed"
	KindPresenceChanged      EventKind = "presence_changed"
)

type Event interface {
	Kind() EventKind
	Room() string
}

type MessageReceived struct {
	Message Message
}

func (MessageReceived) Kind() EventKind { return KindMessageReceived }
func (e MessageReceived) Room() string  { return e.Message.RoomID }

type MessageStatusChanged struct {
	RoomID    string
	MessageID string
	AuthorID  string
	Status    MessageStatus
}

func (MessageStatusChanged) Kind() EventKind { return KindMessageStatusChanged }
func (e MessageStatusChanged) Room() string  { return e.RoomID }

type ReactionChanged struct {
	RoomID    string
	MessageID string
	Reactions map[string][]string
}

func (ReactionChanged) Kind() EventKind { return KindReactionChanged }
func (e ReactionChanged) Room() string  { return e.RoomID }

type TypingChanged struct {
	RoomID     string
	IdentityID string
	Typing     bool
}

func (TypingChanged) Kind() EventKind { return KindTypingChanged }
func (e TypingChanged) Room() string  { return e.RoomID }

type PresenceChanged struct {
	RoomID   string
	Presence Presence
}

func (PresenceChanged) Kind() EventKind { return KindPresenceChanged }
func (e PresenceChanged) Room() string  { return e.RoomID }
