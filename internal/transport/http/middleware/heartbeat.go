package httpmw

import "net/http"

type HeartbeatToucher interface {
	TouchHeartbeat(identityID string)
}

// HeartbeatMiddleware освежает lastActiveAt на любом аутентифицированном
// запросе.
func HeartbeatMiddleware(t HeartbeatToucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := IdentityIDFromCtx(r.Context()); id != "" {
				// best-effort: ошибки не прерывают запрос
				t.TouchHeartbeat(id)
			}
			next.ServeHTTP(w, r)
		})
	}
}
