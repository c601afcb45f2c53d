package domain

import "errors"

var (
	ErrDuplicateSession  = errors.New("identity already holds an active session")
	ErrDuplicateRoomName = errors.New("room name already taken")
	ErrRoomNotFound      = errors.New("room not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrSessionNotFound   = errors.New("session not found or closed")
	ErrInvalidTransition = errors.New("invalid message status transition")
	ErrNotAMember        = errors.New("identity is not a member of the room")

	// ErrSubscriberOverloaded — internal: медленный подписчик отключён,
	// командам не возвращается.
	ErrSubscriberOverloaded = errors.New("subscriber queue overflow")

	ErrEmptyMessage   = errors.New("empty message body")
	ErrMessageTooLong = errors.New("message too long")
	ErrEmptyRoomName  = errors.New("room name cannot be empty")
)
