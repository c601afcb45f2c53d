package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cwrk-planet/chat-core/internal/coord"
	"github.com/cwrk-planet/chat-core/internal/identity"
	"github.com/cwrk-planet/chat-core/internal/msglog"
	httpmw "github.com/cwrk-planet/chat-core/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	coordinator *coord.Coordinator
	identities  *identity.Registry
	signer      *identity.Signer
}

func NewHandler(c *coord.Coordinator, ids *identity.Registry, signer *identity.Signer) *Handler {
	return &Handler{
		coordinator: c,
		identities:  ids,
		signer:      signer,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := ToHTTP(err)
	if status == http.StatusInternalServerError {
		slog.Error("handler."+op+":", slog.Any("err", err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// POST /auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	id, err := h.identities.Register(req.Username, req.Password)
	if err != nil {
		h.writeError(w, "Register", err)
		return
	}
	token, err := h.signer.Sign(id.ID)
	if err != nil {
		h.writeError(w, "Register.Sign", err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{
		IdentityID:  id.ID,
		DisplayName: id.DisplayName,
		AccessToken: token,
	})
}

// POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	id, err := h.identities.Authenticate(req.Username, req.Password)
	if err != nil {
		h.writeError(w, "Login", err)
		return
	}
	token, err := h.signer.Sign(id.ID)
	if err != nil {
		h.writeError(w, "Login.Sign", err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		IdentityID:  id.ID,
		DisplayName: id.DisplayName,
		AccessToken: token,
	})
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	room, err := h.coordinator.CreateRoom(req.Name)
	if err != nil {
		h.writeError(w, "CreateRoom", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoomItem(*room))
}

// GET /rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.coordinator.Rooms()
	resp := RoomsListResponse{Items: make([]RoomItem, 0, len(rooms))}
	for _, rm := range rooms {
		resp.Items = append(resp.Items, toRoomItem(rm))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.coordinator.Room(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "GetRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomItem(*room))
}

// POST /rooms/{id}/join — требует живой сессии (WS).
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	identityID := httpmw.IdentityIDFromCtx(r.Context())

	handle, err := h.coordinator.HandleOf(identityID)
	if err != nil {
		h.writeError(w, "JoinRoom", err)
		return
	}
	if err := h.coordinator.JoinRoom(handle, roomID); err != nil {
		h.writeError(w, "JoinRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, JoinRoomResponse{RoomID: roomID, IdentityID: identityID})
}

// GET /rooms/{id}/presence
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	presence, err := h.coordinator.ListPresence(roomID)
	if err != nil {
		h.writeError(w, "GetPresence", err)
		return
	}
	typing, _ := h.coordinator.ListTyping(roomID)

	resp := PresenceResponse{Items: make([]PresenceItem, 0, len(presence)), Typing: typing}
	for _, p := range presence {
		resp.Items = append(resp.Items, toPresenceItem(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}/messages?after=&limit=
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	after := r.URL.Query().Get("after")
	// limit режется до фактического здесь же: курсор NextAfter
	// сравнивается с тем limit, который реально применил лог
	limit := msglog.DefaultQueryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > msglog.MaxQueryLimit {
		limit = msglog.MaxQueryLimit
	}

	handle, err := h.coordinator.HandleOf(httpmw.IdentityIDFromCtx(r.Context()))
	if err != nil {
		h.writeError(w, "GetMessages", err)
		return
	}
	msgs, err := h.coordinator.QueryMessages(r.Context(), handle, roomID, after, limit)
	if err != nil {
		h.writeError(w, "GetMessages", err)
		return
	}

	resp := MessagesResponse{Items: make([]MessageItem, 0, len(msgs))}
	for _, m := range msgs {
		resp.Items = append(resp.Items, toMessageItem(m))
	}
	if len(msgs) == limit {
		resp.NextAfter = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{id}/search?q=
func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	query := r.URL.Query().Get("q")

	handle, err := h.coordinator.HandleOf(httpmw.IdentityIDFromCtx(r.Context()))
	if err != nil {
		h.writeError(w, "SearchMessages", err)
		return
	}
	msgs, err := h.coordinator.SearchMessages(r.Context(), handle, roomID, query)
	if err != nil {
		h.writeError(w, "SearchMessages", err)
		return
	}

	resp := MessagesResponse{Items: make([]MessageItem, 0, len(msgs))}
	for _, m := range msgs {
		resp.Items = append(resp.Items, toMessageItem(m))
	}
	writeJSON(w, http.StatusOK, resp)
}
