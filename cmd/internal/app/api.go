package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hearth/cmd/identity"
	"hearth/cmd/internal/auth/token"
	"hearth/cmd/internal/chat"
	v1 "hearth/shared/contracts/chat/v1"
)

const (
	apiMaxBodyBytes = 1 << 20

	historyDefaultLimit = 50
	historyMaxLimit     = 200
)

// apiHandler serves the REST surface: room administration, history
// pagination, and credential endpoints.
type apiHandler struct {
	log    Logger
	rooms  *chat.Registry
	users  identity.Store
	tokens *token.Manager
}

func (h *apiHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms", h.listRooms)
	mux.HandleFunc("POST /api/rooms", h.createRoom)
	mux.HandleFunc("DELETE /api/rooms/{id}", h.deleteRoom)
	mux.HandleFunc("GET /api/rooms/{id}/history", h.roomHistory)

	mux.HandleFunc("POST /api/auth/register", h.registerUser)
	mux.HandleFunc("POST /api/auth/login", h.login)
}

// requireToken authorizes a request from its Authorization header. Room
// mutations over REST need the same verified bearer token the gateway
// demands. On failure it writes the 401 response itself and reports false.
func (h *apiHandler) requireToken(w http.ResponseWriter, r *http.Request) (token.Claims, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	bearer, ok := strings.CutPrefix(raw, "Bearer ")
	bearer = strings.TrimSpace(bearer)
	if !ok || bearer == "" {
		writeError(w, http.StatusUnauthorized, "missing_token", "Authorization: Bearer <token> required")
		return token.Claims{}, false
	}

	claims, err := h.tokens.Verify(bearer, time.Now().UTC())
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", "token has expired")
		return token.Claims{}, false
	case err != nil:
		writeError(w, http.StatusUnauthorized, "token_invalid", "token is not valid")
		return token.Claims{}, false
	}
	return claims, true
}

// ---- rooms ----

func (h *apiHandler) listRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := h.rooms.List()
	out := make([]chat.Summary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

type createRoomRequest struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

func (h *apiHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireToken(w, r)
	if !ok {
		return
	}

	var req createRoomRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.RoomName == "" {
		req.RoomName = req.RoomID
	}

	room, err := h.rooms.Create(req.RoomID, req.RoomName)
	switch {
	case errors.Is(err, chat.ErrInvalidRoomID):
		writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must match [a-zA-Z0-9_-]{1,64}")
		return
	case errors.Is(err, chat.ErrRoomExists):
		writeError(w, http.StatusConflict, "room_exists", "room already exists")
		return
	case err != nil:
		h.log.Error("api.rooms.create_fail", "room_id", req.RoomID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create room")
		return
	}

	h.log.Info("api.rooms.created", "room_id", room.ID, "by", claims.Identity)
	writeJSON(w, http.StatusCreated, room.Summary())
}

func (h *apiHandler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireToken(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	if !h.rooms.Delete(roomID) {
		writeError(w, http.StatusNotFound, "room_not_found", "no such room")
		return
	}
	h.log.Info("api.rooms.deleted", "room_id", roomID, "by", claims.Identity)
	w.WriteHeader(http.StatusNoContent)
}

type historyResponse struct {
	Messages   []v1.MessagePayload `json:"messages"`
	HasMore    bool                `json:"has_more"`
	TotalCount int64               `json:"total_count"`
}

func (h *apiHandler) roomHistory(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Find(r.PathValue("id"))
	if errors.Is(err, chat.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "room_not_found", "no such room")
		return
	}

	limit := queryInt(r, "limit", historyDefaultLimit)
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}
	offset := queryInt(r, "offset", 0)
	if limit < 0 || offset < 0 {
		writeError(w, http.StatusBadRequest, "bad_pagination", "limit and offset must be non-negative")
		return
	}

	page, err := room.Log().Page(limit, offset)
	if err != nil {
		h.log.Error("api.history.page_fail", "room_id", room.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not read history")
		return
	}

	msgs := make([]v1.MessagePayload, 0, len(page.Entries))
	for _, e := range page.Entries {
		msgs = append(msgs, v1.MessagePayload{
			RoomID:    e.RoomID,
			Username:  e.Username,
			Text:      e.Text,
			Timestamp: e.Timestamp,
			Unix:      e.Unix,
		})
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Messages:   msgs,
		HasMore:    page.HasMore,
		TotalCount: page.Total,
	})
}

// ---- auth ----

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *apiHandler) registerUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !readJSON(w, r, &req) {
		return
	}

	err := h.users.Register(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, "invalid_username", "username is empty, too long, or contains invalid characters")
		return
	case errors.Is(err, identity.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "password_too_short", "password does not meet the length requirement")
		return
	case errors.Is(err, identity.ErrUserExists):
		writeError(w, http.StatusConflict, "user_exists", "username is taken")
		return
	case err != nil:
		h.log.Error("api.auth.register_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not register")
		return
	}

	h.log.Info("api.auth.registered", "username", req.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

type loginResponse struct {
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *apiHandler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !readJSON(w, r, &req) {
		return
	}

	ok, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.log.Error("api.auth.login_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not authenticate")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "unknown user or wrong password")
		return
	}

	tok, expiresAt, err := h.tokens.Issue(req.Username, time.Now().UTC())
	if err != nil {
		h.log.Error("api.auth.issue_fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not issue token")
		return
	}

	h.log.Info("api.auth.login", "username", req.Username, "expires_at", expiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		Username:  req.Username,
		Token:     tok,
		ExpiresAt: expiresAt,
	})
}

// ---- JSON plumbing ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// readJSON decodes a bounded JSON body; on failure it writes the error
// response itself and reports false.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, apiMaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "request body is not valid JSON")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
