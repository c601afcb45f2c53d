package domain

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Presence — живое состояние подключённой identity. Одна запись на сессию,
// уничтожается при disconnect.
type Presence struct {
	IdentityID   string         `json:"identity_id"`
	DisplayName  string         `json:"display_name"`
	RoomID       string         `json:"room_id"`
	Status       PresenceStatus `json:"status"`
	LastActiveAt time.Time      `json:"last_active_at"`
}
