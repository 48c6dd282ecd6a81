// Package main provides a CI-friendly WebSocket smoke test for Hearth chat.
//
// It validates:
//   - credential bootstrap over the REST API (register + login)
//   - handshake + subprotocol selection
//   - authenticate/ack session establishment
//   - room join ack with membership
//   - send -> fanout message_new to another client
//   - heartbeat acceptance
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "hearth/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "hearth.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name     string
	conn     *websocket.Conn
	connID   string
	username string
	token    string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "REST API base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		roomID  = flag.String("room", "smoke-room", "Room ID to join")
		text    = flag.String("text", "hello hearth 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	userA := fmt.Sprintf("smoke-a-%d", time.Now().UnixNano())
	userB := fmt.Sprintf("smoke-b-%d", time.Now().UnixNano())

	tokenA := mustObtainToken(root, *apiURL, userA, "smoke-password-1", *timeout)
	tokenB := mustObtainToken(root, *apiURL, userB, "smoke-password-2", *timeout)

	a := mustConnect(root, "A", *wsURL, *origin, userA, tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, userB, tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.connID, b.connID, *origin)
	}

	mustJoin(root, a, *roomID, *timeout)
	mustJoin(root, b, *roomID, *timeout)

	// B just joined, so A should observe a presence_join for B.
	mustReadPresence(root, a, v1.TypePresenceJoin, *roomID, userB, *timeout)

	mustSend(root, a, *text, *timeout)
	mustAssertNew(root, b, *roomID, userA, *text, *timeout)
	mustAssertNew(root, a, *roomID, userA, *text, *timeout)

	mustHeartbeat(root, a, *timeout)

	fmt.Printf("OK: A=%s B=%s room_id=%s\n", a.connID, b.connID, *roomID)
}

// ---- REST bootstrap ----

func mustObtainToken(parent context.Context, apiBase, username, password string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	creds, _ := json.Marshal(map[string]string{"username": username, "password": password})

	// Registration may 409 on reruns with fixed usernames; only login must succeed.
	regReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/api/auth/register", bytes.NewReader(creds))
	if err != nil {
		fatalf("build register request: %v", err)
	}
	regReq.Header.Set("Content-Type", "application/json")
	if resp, err := http.DefaultClient.Do(regReq); err == nil {
		_ = resp.Body.Close()
	}

	loginReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/api/auth/login", bytes.NewReader(creds))
	if err != nil {
		fatalf("build login request: %v", err)
	}
	loginReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(loginReq)
	if err != nil {
		fatalf("login %s: %v", username, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("login %s: status=%d", username, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode login response: %v", err)
	}
	if strings.TrimSpace(out.Token) == "" {
		fatalf("login %s: empty token", username)
	}
	return out.Token
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// ---- WS steps ----

func mustConnect(parent context.Context, name, wsURL, origin, username, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:     name,
		conn:     conn,
		username: username,
		token:    token,
		inbox:    make(chan v1.Envelope, 512),
		errCh:    make(chan error, 1),
	}
	c.startReadLoop()

	auth := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeAuthenticate,
		ID:      fmt.Sprintf("%s-auth", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.AuthenticatePayload{Token: token}),
	}
	mustWriteWithTimeout(parent, conn, auth, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeAuthenticateAck, stepTimeout, nil)

	var p v1.AuthenticateAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal authenticate_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		fatalf("authenticate_ack missing connection_id (%s)", name)
	}
	if p.Username != username {
		fatalf("authenticate_ack username mismatch (%s): got=%q want=%q", name, p.Username, username)
	}
	c.connID = p.ConnectionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if env.V != v1.Version || env.Type == "" {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: v=%q type=%q", env.V, env.Type):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, roomID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeRoomJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.RoomJoinPayload{RoomID: roomID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypePresenceJoin: {}}
	ack := c.mustReadUntilType(parent, v1.TypeRoomJoinAck, stepTimeout, skip)

	var p v1.RoomJoinAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal room_join_ack payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID {
		fatalf("room_join_ack room_id mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}

	found := false
	for _, m := range p.Members {
		if m == c.username {
			found = true
			break
		}
	}
	if !found {
		fatalf("room_join_ack members missing self (%s): %v", c.name, p.Members)
	}
}

func mustReadPresence(parent context.Context, c *smokeClient, wantType, roomID, username string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, wantType, stepTimeout, nil)

	var p v1.PresencePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal presence payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID || p.Username != username {
		fatalf("presence mismatch (%s): room=%q user=%q", c.name, p.RoomID, p.Username)
	}
}

func mustSend(parent context.Context, c *smokeClient, text string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeMessageSend,
		ID:      fmt.Sprintf("%s-send", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.MessageSendPayload{Text: text}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertNew(parent context.Context, c *smokeClient, roomID, sender, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, nil)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_new payload (%s): %v", c.name, err)
	}

	if p.RoomID != roomID {
		fatalf("new room_id mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}
	if p.Username != sender {
		fatalf("new sender mismatch (%s): got=%q want=%q", c.name, p.Username, sender)
	}
	if p.Text != text {
		fatalf("new text mismatch (%s): got=%q want=%q", c.name, p.Text, text)
	}
	if p.Unix <= 0 || strings.TrimSpace(p.Timestamp) == "" {
		fatalf("new timestamp missing (%s): unix=%d ts=%q", c.name, p.Unix, p.Timestamp)
	}
}

func mustHeartbeat(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHeartbeat,
		ID:      fmt.Sprintf("%s-heartbeat", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HeartbeatPayload{Token: c.token}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	// A fresh token is not near renewal; any error envelope is a failure.
	ctx, cancel := context.WithTimeout(parent, 1200*time.Millisecond)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed after heartbeat (%s)", c.name)
			}
			fatalf("connection error after heartbeat (%s): %v", c.name, err)
		case got, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed after heartbeat (%s)", c.name)
			}
			if got.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(got.Payload, &ep)
				fatalf("heartbeat rejected (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
