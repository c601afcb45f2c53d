// Package identity — регистрация и аутентификация участников.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-core/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameRequired   = errors.New("username is required")
	ErrPasswordTooShort   = errors.New("password too short")
	ErrUnknownIdentity    = errors.New("unknown identity")
)

const minPasswordLen = 6

type user struct {
	identity     domain.Identity
	passwordHash string
	createdAt    time.Time
}

// Registry — in-memory каталог identity. Username уникален
// case-insensitive; display name сохраняет регистр регистрации.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*user // lowercase username -> user
	byID   map[string]*user
	bcrypt int
	now    func() time.Time
}

type Option func(*Registry)

func WithBcryptCost(cost int) Option {
	return func(r *Registry) {
		if cost > 0 {
			r.bcrypt = cost
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byName: make(map[string]*user),
		byID:   make(map[string]*user),
		bcrypt: bcrypt.DefaultCost,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(username, password string) (domain.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Identity{}, ErrUsernameRequired
	}
	if len(password) < minPasswordLen {
		return domain.Identity{}, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.bcrypt)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("bcrypt: %w", err)
	}

	key := strings.ToLower(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[key]; ok {
		return domain.Identity{}, ErrUsernameTaken
	}
	u := &user{
		identity: domain.Identity{
			ID:          uuid.NewString(),
			DisplayName: username,
		},
		passwordHash: string(hash),
		createdAt:    r.now(),
	}
	r.byName[key] = u
	r.byID[u.identity.ID] = u
	return u.identity, nil
}

// Authenticate проверяет пару username/password. Несуществующий
// username и неверный пароль неразличимы для вызывающего.
func (r *Registry) Authenticate(username, password string) (domain.Identity, error) {
	r.mu.RLock()
	u, ok := r.byName[strings.ToLower(strings.TrimSpace(username))]
	r.mu.RUnlock()

	if !ok {
		return domain.Identity{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(password)) != nil {
		return domain.Identity{}, ErrInvalidCredentials
	}
	return u.identity, nil
}

func (r *Registry) Get(identityID string) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[identityID]
	if !ok {
		return domain.Identity{}, ErrUnknownIdentity
	}
	return u.identity, nil
}

// DisplayName реализует msglog.Resolver (поиск по автору).
func (r *Registry) DisplayName(identityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.byID[identityID]; ok {
		return u.identity.DisplayName
	}
	return ""
}
