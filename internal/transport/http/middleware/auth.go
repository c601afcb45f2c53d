package httpmw

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const ctxKeyIdentityID ctxKey = "identity_id"

type TokenVerifier interface {
	Verify(token string) (identityID string, err error)
}

// AuthMiddleware: Bearer access-токен -> identity id в контексте.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= 7 {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			id, err := verifier.Verify(strings.TrimSpace(auth[7:]))
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentityID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityIDFromCtx(ctx context.Context) string {
	if v := ctx.Value(ctxKeyIdentityID); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
