package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/chat-core/internal/transport/http/middleware"
	"github.com/cwrk-planet/chat-core/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler, verifier httpmw.TokenVerifier, toucher httpmw.HeartbeatToucher, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	// WS endpoint: токен в query, т.к. браузерный WebSocket не несёт
	// заголовков
	r.Get("/ws", wsServer.HandleWS)

	// все остальные маршруты требуют access_token
	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.AuthMiddleware(verifier))
		pr.Use(httpmw.HeartbeatMiddleware(toucher))
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Route("/rooms", func(rm chi.Router) {
			rm.Post("/", h.CreateRoom)
			rm.Get("/", h.ListRooms)

			rm.Route("/{id}", func(rr chi.Router) {
				rr.Get("/", h.GetRoom)
				rr.Post("/join", h.JoinRoom)
				rr.Get("/presence", h.GetPresence)
				rr.Get("/messages", h.GetMessages)
				rr.Get("/search", h.SearchMessages)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
