package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hearth/cmd/internal/auth/token"
	"hearth/cmd/internal/chat"
)

type stubUserStore struct {
	registered map[string]string
}

func (s *stubUserStore) Register(_ context.Context, username, password string) error {
	s.registered[username] = password
	return nil
}

func (s *stubUserStore) Authenticate(_ context.Context, username, password string) (bool, error) {
	p, ok := s.registered[username]
	return ok && p == password, nil
}

func (s *stubUserStore) Close() error { return nil }

func newTestAPI(t *testing.T) (*apiHandler, *http.ServeMux) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rooms, err := chat.NewRegistry(t.TempDir(), log)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(func() { _ = rooms.Close() })

	tokens, err := token.NewManager(token.DefaultConfig(), log)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	h := &apiHandler{
		log:    log,
		rooms:  rooms,
		users:  &stubUserStore{registered: map[string]string{"alice": "password1"}},
		tokens: tokens,
	}
	mux := http.NewServeMux()
	h.register(mux)
	return h, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONAs(t, mux, "", method, path, body)
}

func doJSONAs(t *testing.T, mux *http.ServeMux, bearer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func issueTestToken(t *testing.T, h *apiHandler, identity string, now time.Time) string {
	t.Helper()
	tok, _, err := h.tokens.Issue(identity, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func TestAPIRoomsLifecycle(t *testing.T) {
	t.Parallel()

	h, mux := newTestAPI(t)
	bearer := issueTestToken(t, h, "alice", time.Now().UTC())

	rr := doJSONAs(t, mux, bearer, http.MethodPost, "/api/rooms", createRoomRequest{RoomID: "ops", RoomName: "Ops"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status=%d body=%s", rr.Code, rr.Body)
	}

	rr = doJSONAs(t, mux, bearer, http.MethodPost, "/api/rooms", createRoomRequest{RoomID: "ops"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate create: status=%d", rr.Code)
	}

	rr = doJSONAs(t, mux, bearer, http.MethodPost, "/api/rooms", createRoomRequest{RoomID: "bad room!"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid id: status=%d", rr.Code)
	}

	rr = doJSON(t, mux, http.MethodGet, "/api/rooms", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status=%d", rr.Code)
	}
	var listed struct {
		Rooms []chat.Summary `json:"rooms"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	// Default room plus the one just created.
	if len(listed.Rooms) != 2 {
		t.Fatalf("rooms=%d, want 2", len(listed.Rooms))
	}

	rr = doJSONAs(t, mux, bearer, http.MethodDelete, "/api/rooms/ops", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: status=%d", rr.Code)
	}
	rr = doJSONAs(t, mux, bearer, http.MethodDelete, "/api/rooms/ops", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("delete again: status=%d", rr.Code)
	}
}

func TestAPIRoomMutationsRequireToken(t *testing.T) {
	t.Parallel()

	h, mux := newTestAPI(t)

	// Without credentials both mutations must be refused outright.
	rr := doJSON(t, mux, http.MethodPost, "/api/rooms", createRoomRequest{RoomID: "ops"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("create without token: status=%d body=%s", rr.Code, rr.Body)
	}
	rr = doJSON(t, mux, http.MethodDelete, "/api/rooms/general", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("delete without token: status=%d", rr.Code)
	}

	rr = doJSONAs(t, mux, "not-a-token", http.MethodPost, "/api/rooms", createRoomRequest{RoomID: "ops"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status=%d", rr.Code)
	}

	expired := issueTestToken(t, h, "alice", time.Now().UTC().Add(-2*time.Hour))
	rr = doJSONAs(t, mux, expired, http.MethodPost, "/api/rooms", createRoomRequest{RoomID: "ops"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: status=%d", rr.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "token_expired" {
		t.Fatalf("error=%q, want token_expired", body.Error)
	}

	// Nothing above may have created the room.
	bearer := issueTestToken(t, h, "alice", time.Now().UTC())
	rr = doJSONAs(t, mux, bearer, http.MethodPost, "/api/rooms", createRoomRequest{RoomID: "ops"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create with token: status=%d body=%s", rr.Code, rr.Body)
	}

	// The default room and reads stay open.
	rr = doJSON(t, mux, http.MethodGet, "/api/rooms", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list without token: status=%d", rr.Code)
	}
	rr = doJSON(t, mux, http.MethodGet, "/api/rooms/general/history", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history without token: status=%d", rr.Code)
	}
}

func TestAPIRoomHistoryPagination(t *testing.T) {
	t.Parallel()

	h, mux := newTestAPI(t)

	room, ok := h.rooms.Get(chat.DefaultRoomID)
	if !ok {
		t.Fatal("default room missing")
	}
	now := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := room.Log().Append("alice", fmt.Sprintf("m%d", i+1), now); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rr := doJSON(t, mux, http.MethodGet, "/api/rooms/general/history?limit=2&offset=1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history: status=%d body=%s", rr.Code, rr.Body)
	}
	var page historyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.TotalCount != 5 || !page.HasMore || len(page.Messages) != 2 {
		t.Fatalf("page=%+v", page)
	}
	if page.Messages[0].Text != "m3" || page.Messages[1].Text != "m4" {
		t.Fatalf("window=%q,%q want m3,m4", page.Messages[0].Text, page.Messages[1].Text)
	}

	rr = doJSON(t, mux, http.MethodGet, "/api/rooms/nowhere/history", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown room: status=%d", rr.Code)
	}
}

func TestAPIAuthLogin(t *testing.T) {
	t.Parallel()

	_, mux := newTestAPI(t)

	rr := doJSON(t, mux, http.MethodPost, "/api/auth/login", credentialsRequest{Username: "alice", Password: "password1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", rr.Code, rr.Body)
	}
	var resp loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" || resp.Username != "alice" {
		t.Fatalf("resp=%+v", resp)
	}
	if remaining := time.Until(resp.ExpiresAt); remaining < 55*time.Minute {
		t.Fatalf("token expires too soon: %v", remaining)
	}

	rr = doJSON(t, mux, http.MethodPost, "/api/auth/login", credentialsRequest{Username: "alice", Password: "nope"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status=%d", rr.Code)
	}

	rr = doJSON(t, mux, http.MethodPost, "/api/auth/register", credentialsRequest{Username: "bob", Password: "password2"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: status=%d body=%s", rr.Code, rr.Body)
	}
}
