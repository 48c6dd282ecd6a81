package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"hearth/cmd/internal/auth/token"
	"hearth/cmd/internal/chat"
	v1 "hearth/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

func newTestGateway(t *testing.T, cfg token.Config) (*Gateway, *chat.Registry, *token.Manager) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rooms, err := chat.NewRegistry(t.TempDir(), log)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(func() { _ = rooms.Close() })

	tokens, err := token.NewManager(cfg, log)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	return NewGateway(log, rooms, tokens, NewDirectory()), rooms, tokens
}

func startWSTestServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, baseHTTPURL string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(),
		TS:      time.Now().UTC(),
		Payload: raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()

	for i := 0; i < maxReads; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q in %d reads", typ, maxReads)
	return v1.Envelope{}
}

func authenticateWS(t *testing.T, conn *websocket.Conn, tokens *token.Manager, identity string) {
	t.Helper()

	tok, _, err := tokens.Issue(identity, time.Now().UTC())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	writeEnvelopeWS(t, conn, v1.TypeAuthenticate, v1.AuthenticatePayload{Token: tok})

	ack := readUntilType(t, conn, v1.TypeAuthenticateAck, 4)
	var p v1.AuthenticateAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		t.Fatalf("decode authenticate ack: %v", err)
	}
	if p.Username != identity {
		t.Fatalf("ack username=%q, want %q", p.Username, identity)
	}
}

func joinRoomWS(t *testing.T, conn *websocket.Conn, roomID string) v1.RoomJoinAckPayload {
	t.Helper()

	writeEnvelopeWS(t, conn, v1.TypeRoomJoin, v1.RoomJoinPayload{RoomID: roomID})
	ack := readUntilType(t, conn, v1.TypeRoomJoinAck, 6)
	var p v1.RoomJoinAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		t.Fatalf("decode join ack: %v", err)
	}
	return p
}

func waitForMembers(t *testing.T, room *chat.Room, want []string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		got := room.Presence().Members()
		if len(got) == len(want) {
			same := true
			for i := range want {
				if got[i] != want[i] {
					same = false
					break
				}
			}
			if same {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("members=%v, want %v", got, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGatewayJoinAndMessageFanout(t *testing.T) {
	t.Setenv("HEARTH_WS_ORIGIN_REQUIRED", "false")

	gw, _, tokens := newTestGateway(t, token.DefaultConfig())
	ts := startWSTestServer(t, gw)

	alice := dialWS(t, ts.URL)
	authenticateWS(t, alice, tokens, "alice")
	ack := joinRoomWS(t, alice, "")
	if ack.RoomID != chat.DefaultRoomID {
		t.Fatalf("room_id=%q, want %q", ack.RoomID, chat.DefaultRoomID)
	}

	bob := dialWS(t, ts.URL)
	authenticateWS(t, bob, tokens, "bob")
	bobAck := joinRoomWS(t, bob, "")
	if len(bobAck.Members) != 2 {
		t.Fatalf("members=%v, want alice and bob", bobAck.Members)
	}

	// The member already in the room sees the newcomer.
	pj := readUntilType(t, alice, v1.TypePresenceJoin, 4)
	var pres v1.PresencePayload
	if err := json.Unmarshal(pj.Payload, &pres); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if pres.Username != "bob" {
		t.Fatalf("presence username=%q, want bob", pres.Username)
	}

	writeEnvelopeWS(t, alice, v1.TypeMessageSend, v1.MessageSendPayload{Text: "hello bob"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readUntilType(t, conn, v1.TypeMessageNew, 6)
		var msg v1.MessagePayload
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Username != "alice" || msg.Text != "hello bob" || msg.RoomID != chat.DefaultRoomID {
			t.Fatalf("message=%+v", msg)
		}
		if msg.Unix == 0 || msg.Timestamp == "" {
			t.Fatalf("message missing timestamps: %+v", msg)
		}
	}
}

func TestGatewayRejectsEventsBeforeAuthenticate(t *testing.T) {
	t.Setenv("HEARTH_WS_ORIGIN_REQUIRED", "false")

	gw, _, _ := newTestGateway(t, token.DefaultConfig())
	ts := startWSTestServer(t, gw)

	conn := dialWS(t, ts.URL)
	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{Text: "hi"})

	env := readUntilType(t, conn, v1.TypeError, 2)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if p.Code != "not_authenticated" {
		t.Fatalf("code=%q, want not_authenticated", p.Code)
	}
}

func TestGatewayReconnectKeepsPresence(t *testing.T) {
	t.Setenv("HEARTH_WS_ORIGIN_REQUIRED", "false")

	gw, rooms, tokens := newTestGateway(t, token.DefaultConfig())
	ts := startWSTestServer(t, gw)

	first := dialWS(t, ts.URL)
	authenticateWS(t, first, tokens, "alice")
	joinRoomWS(t, first, chat.DefaultRoomID)

	room, ok := rooms.Get(chat.DefaultRoomID)
	if !ok {
		t.Fatal("default room missing")
	}
	waitForMembers(t, room, []string{"alice"})

	// A second connection for the same identity resumes the room without an
	// explicit room_join and displaces the first connection.
	second := dialWS(t, ts.URL)
	authenticateWS(t, second, tokens, "alice")
	ack := readUntilType(t, second, v1.TypeRoomJoinAck, 4)
	var joined v1.RoomJoinAckPayload
	if err := json.Unmarshal(ack.Payload, &joined); err != nil {
		t.Fatalf("decode join ack: %v", err)
	}
	if joined.RoomID != chat.DefaultRoomID {
		t.Fatalf("resumed room=%q, want %q", joined.RoomID, chat.DefaultRoomID)
	}

	// The server closes the displaced connection promptly rather than leaving
	// its read loop parked until the idle timeout.
	readCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	_, _, err := first.Read(readCtx)
	cancel()
	if err == nil {
		t.Fatal("displaced connection still readable")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("displaced connection was not closed by the server")
	}

	// The stale teardown must not strip the surviving session's presence.
	waitForMembers(t, room, []string{"alice"})

	writeEnvelopeWS(t, second, v1.TypeMessageSend, v1.MessageSendPayload{Text: "still here"})
	env := readUntilType(t, second, v1.TypeMessageNew, 6)
	var msg v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Username != "alice" || msg.Text != "still here" {
		t.Fatalf("message=%+v", msg)
	}
}

func TestGatewayHeartbeatRenewalPush(t *testing.T) {
	t.Setenv("HEARTH_WS_ORIGIN_REQUIRED", "false")

	gw, _, tokens := newTestGateway(t, token.DefaultConfig())
	ts := startWSTestServer(t, gw)

	conn := dialWS(t, ts.URL)

	// Issued far enough in the past to sit below the renewal threshold while
	// still being valid.
	now := time.Now().UTC()
	tok, _, err := tokens.Issue("alice", now.Add(-58*time.Minute))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	writeEnvelopeWS(t, conn, v1.TypeAuthenticate, v1.AuthenticatePayload{Token: tok})
	readUntilType(t, conn, v1.TypeAuthenticateAck, 4)
	joinRoomWS(t, conn, "")

	writeEnvelopeWS(t, conn, v1.TypeHeartbeat, v1.HeartbeatPayload{Token: tok})
	env := readUntilType(t, conn, v1.TypeTokenRenew, 6)
	var renew v1.TokenRenewPayload
	if err := json.Unmarshal(env.Payload, &renew); err != nil {
		t.Fatalf("decode renew: %v", err)
	}
	if renew.Token == "" || renew.Token == tok {
		t.Fatal("expected a freshly issued token")
	}
	if remaining := time.Until(renew.ExpiresAt); remaining < 55*time.Minute {
		t.Fatalf("renewed token expires too soon: %v", remaining)
	}
}

func TestGatewayHeartbeatInvalidTokenTearsDown(t *testing.T) {
	t.Setenv("HEARTH_WS_ORIGIN_REQUIRED", "false")

	gw, rooms, tokens := newTestGateway(t, token.DefaultConfig())
	ts := startWSTestServer(t, gw)

	conn := dialWS(t, ts.URL)
	authenticateWS(t, conn, tokens, "alice")
	joinRoomWS(t, conn, "")

	room, ok := rooms.Get(chat.DefaultRoomID)
	if !ok {
		t.Fatal("default room missing")
	}
	waitForMembers(t, room, []string{"alice"})

	writeEnvelopeWS(t, conn, v1.TypeHeartbeat, v1.HeartbeatPayload{Token: "garbage"})

	// The session is torn down: reads end with a close and presence drains.
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _, err := conn.Read(ctx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection not closed after failed heartbeat")
		}
	}
	waitForMembers(t, room, nil)
}
