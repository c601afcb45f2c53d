package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var ErrInvalidToken = errors.New("invalid token")

const tokenIssuer = "chat-core"

// Signer выпускает и проверяет access-токены. HS256 с секретом из
// конфига; subject — identity id.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: now}
}

func (s *Signer) Sign(identityID string) (string, error) {
	now := s.now()
	claims := jwt.StandardClaims{
		Subject:   identityID,
		Issuer:    tokenIssuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify возвращает identity id из валидного токена.
func (s *Signer) Verify(token string) (string, error) {
	var claims jwt.StandardClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected alg %v", ErrInvalidToken, t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != tokenIssuer || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
