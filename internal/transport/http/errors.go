package http

import (
	"errors"
	"net/http"

	"github.com/cwrk-planet/chat-core/internal/domain"
	"github.com/cwrk-planet/chat-core/internal/identity"
)

// ToHTTP переводит вид ошибки ядра в статус. Текст для пользователя —
// забота UI, ядро гарантирует только kind + detail.
func ToHTTP(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateRoomName),
		errors.Is(err, domain.ErrDuplicateSession),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, identity.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrEmptyRoomName),
		errors.Is(err, identity.ErrUsernameRequired),
		errors.Is(err, identity.ErrPasswordTooShort):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
