package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"hearth/cmd/internal/auth/token"
	"hearth/cmd/internal/chat"
	v1 "hearth/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "hearth.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsRecentHistoryLimit = 50

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for Hearth chat.
//
// It enforces origin policy, subprotocol selection, rate limits, and pings,
// and routes validated envelopes to the room registry, session directory,
// and token manager.
type Gateway struct {
	log    *slog.Logger
	rooms  *chat.Registry
	tokens *token.Manager
	dir    *Directory

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	pingEvery    time.Duration
	pingDeadline time.Duration

	rateEvents int
	rateWindow time.Duration

	mu     sync.Mutex
	roster map[string]*Client // connID -> client, authenticated only
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, rooms *chat.Registry, tokens *token.Manager, dir *Directory) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if dir == nil {
		dir = NewDirectory()
	}

	g := &Gateway{
		log:    log,
		rooms:  rooms,
		tokens: tokens,
		dir:    dir,
		roster: make(map[string]*Client),
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("HEARTH_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("HEARTH_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("HEARTH_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("HEARTH_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("HEARTH_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("HEARTH_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.pingEvery = envDurationWS("HEARTH_WS_PING_INTERVAL", pingInterval)
	g.pingDeadline = envDurationWS("HEARTH_WS_PING_TIMEOUT", pingTimeout)

	g.rateEvents = envIntWS("HEARTH_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("HEARTH_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the chat loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	metricConnects.Inc()

	connID := NewConnID()
	client := NewClient(connID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and session teardown happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.teardown(connID, reason)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Displacement by a newer session only signals client.Done. Closing the
	// conn from here unblocks the read loop right away instead of leaving it
	// parked until the idle timeout.
	go func() {
		select {
		case <-ctx.Done():
		case <-client.Done():
			shutdown(websocket.StatusPolicyViolation, "displaced")
		}
	}()

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)

		t := time.NewTicker(g.pingEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				pCtx, pCancel := context.WithTimeout(ctx, g.pingDeadline)
				err := conn.Ping(pCtx)
				pCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "ping failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	authed := false

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		if !authed && env.Type != v1.TypeAuthenticate {
			g.trySendError(ctx, client, "not_authenticated", "authenticate first")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeAuthenticate:
			if authed {
				g.trySendError(ctx, client, "already_authenticated", "connection is already bound")
				continue readLoop
			}
			if err := g.onAuthenticate(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "auth_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "auth failed")
				break readLoop
			}
			authed = true

		case v1.TypeRoomJoin:
			if err := g.onRoomJoin(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
				continue readLoop
			}

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeHeartbeat:
			keep, err := g.onHeartbeat(ctx, client, env, now)
			if err != nil {
				g.trySendError(ctx, client, "heartbeat_failed", err.Error())
			}
			if !keep {
				shutdown(websocket.StatusPolicyViolation, "session expired")
				break readLoop
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-pingDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onAuthenticate(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.AuthenticatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	claims, err := g.tokens.Verify(p.Token, now)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return errors.New("token expired")
		}
		return errors.New("token invalid")
	}

	// Reconciliation: a returning identity adopts the room of its most recent
	// session and the stale connection is displaced.
	roomID, oldConnID, resumed := g.dir.Reconcile(client.ConnID, claims.Identity, now)

	g.mu.Lock()
	g.roster[client.ConnID] = client
	var displaced *Client
	if resumed {
		displaced = g.roster[oldConnID]
		delete(g.roster, oldConnID)
	}
	g.mu.Unlock()

	metricSessionsActive.Set(float64(g.dir.Count()))

	if displaced != nil {
		// The old binding is already gone from the directory, so the displaced
		// connection's teardown cannot touch the new session's presence. Close
		// wakes its conn watcher, which closes the socket.
		displaced.Close()
		g.log.Info("ws.session.displaced", "identity", claims.Identity, "old_conn_id", oldConnID, "new_conn_id", client.ConnID)
	}

	ackPayload, _ := json.Marshal(v1.AuthenticateAckPayload{
		ConnectionID: client.ConnID,
		Username:     claims.Identity,
		ExpiresAt:    claims.ExpiresAt,
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeAuthenticateAck, ackPayload, now)) {
		return errors.New("backpressure: authenticate_ack")
	}

	// A resumed session re-enters its room without an explicit room_join.
	if resumed && roomID != "" {
		if room, ok := g.rooms.Get(roomID); ok {
			room.Presence().Add(claims.Identity)
			if err := g.sendJoinAck(ctx, client, room); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Gateway) onRoomJoin(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.RoomJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	sess, ok := g.dir.Lookup(client.ConnID)
	if !ok {
		return errors.New("no session")
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		roomID = chat.DefaultRoomID
	}
	if sess.RoomID == roomID {
		room, ok := g.rooms.Get(roomID)
		if !ok {
			return errors.New("room vanished")
		}
		return g.sendJoinAck(ctx, client, room)
	}

	// Rooms are created lazily on first join.
	room, ok := g.rooms.Get(roomID)
	if !ok {
		created, err := g.rooms.Create(roomID, roomID)
		if errors.Is(err, chat.ErrRoomExists) {
			created, _ = g.rooms.Get(roomID)
		} else if errors.Is(err, chat.ErrInvalidRoomID) {
			return errors.New("invalid room_id")
		} else if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		if created == nil {
			return errors.New("room vanished")
		}
		room = created
		g.log.Info("ws.room.created", "room_id", roomID, "identity", sess.Identity)
	}

	// Single-room membership: leave the old room before entering the new one.
	if sess.RoomID != "" {
		if old, ok := g.rooms.Get(sess.RoomID); ok {
			old.Presence().Remove(sess.Identity)
			g.broadcastPresence(v1.TypePresenceLeave, old, sess.Identity, now)
		}
	}

	g.dir.SetRoom(client.ConnID, room.ID)
	room.Presence().Add(sess.Identity)
	g.broadcastPresence(v1.TypePresenceJoin, room, sess.Identity, now)

	return g.sendJoinAck(ctx, client, room)
}

func (g *Gateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	sess, ok := g.dir.Lookup(client.ConnID)
	if !ok {
		return errors.New("no session")
	}
	if sess.RoomID == "" {
		return errors.New("join a room first")
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	room, ok := g.rooms.Get(sess.RoomID)
	if !ok {
		return errors.New("room vanished")
	}

	entry, err := room.Log().Append(sess.Identity, text, now)
	if err != nil {
		g.log.Error("ws.message.append_fail", "room_id", room.ID, "err", err)
		return errors.New("message not stored")
	}
	metricMessagesAppended.Inc()

	newPayload, _ := json.Marshal(messageFromEntry(entry))
	g.broadcast(room.ID, newEnvelope(v1.TypeMessageNew, newPayload, now))
	return nil
}

// onHeartbeat reports whether the session may stay alive.
func (g *Gateway) onHeartbeat(ctx context.Context, client *Client, env v1.Envelope, now time.Time) (bool, error) {
	var p v1.HeartbeatPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return false, fmt.Errorf("invalid payload: %w", err)
	}

	sess, ok := g.dir.Lookup(client.ConnID)
	if !ok {
		return false, errors.New("no session")
	}

	res, err := g.tokens.CheckHeartbeat(p.Token, now)
	if err != nil {
		return false, errors.New("token invalid")
	}
	if res.Identity != sess.Identity {
		g.log.Info("ws.heartbeat.identity_mismatch", "conn_id", client.ConnID, "bound", sess.Identity, "token", res.Identity)
		return false, errors.New("identity mismatch")
	}

	g.dir.Touch(client.ConnID, now)

	if res.Renewed {
		metricTokenRenewals.Inc()
		renewPayload, _ := json.Marshal(v1.TokenRenewPayload{
			Token:     res.NewToken,
			ExpiresAt: res.NewExpiresAt,
		})
		if !g.enqueue(ctx, client, newEnvelope(v1.TypeTokenRenew, renewPayload, now)) {
			return true, errors.New("backpressure: token_renew")
		}
		g.log.Info("ws.token.renewed", "identity", sess.Identity, "expires_at", res.NewExpiresAt)
	}
	return true, nil
}

// teardown unbinds the session and withdraws presence. A connection displaced
// by reconciliation finds no binding here and leaves the winner untouched.
func (g *Gateway) teardown(connID, reason string) {
	g.mu.Lock()
	delete(g.roster, connID)
	g.mu.Unlock()

	sess, ok := g.dir.Unbind(connID)
	metricSessionsActive.Set(float64(g.dir.Count()))
	if !ok {
		return
	}
	metricTeardowns.WithLabelValues(reason).Inc()

	if sess.RoomID == "" {
		return
	}
	room, ok := g.rooms.Get(sess.RoomID)
	if !ok {
		return
	}
	room.Presence().Remove(sess.Identity)
	g.broadcastPresence(v1.TypePresenceLeave, room, sess.Identity, time.Now().UTC())
}

// ---- send helpers ----

func (g *Gateway) sendJoinAck(ctx context.Context, client *Client, room *chat.Room) error {
	page, err := room.Log().Page(wsRecentHistoryLimit, 0)
	if err != nil {
		g.log.Warn("ws.join.history_fail", "room_id", room.ID, "err", err)
		page = chat.Page{}
	}

	recent := make([]v1.MessagePayload, 0, len(page.Entries))
	for _, e := range page.Entries {
		recent = append(recent, messageFromEntry(e))
	}

	ackPayload, _ := json.Marshal(v1.RoomJoinAckPayload{
		RoomID:   room.ID,
		RoomName: room.Name,
		Members:  room.Presence().Members(),
		Recent:   recent,
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeRoomJoinAck, ackPayload, time.Now().UTC())) {
		return errors.New("backpressure: room_join_ack")
	}
	return nil
}

func (g *Gateway) broadcastPresence(typ string, room *chat.Room, identity string, now time.Time) {
	payload, _ := json.Marshal(v1.PresencePayload{
		RoomID:   room.ID,
		Username: identity,
		Members:  room.Presence().Members(),
	})
	g.broadcast(room.ID, newEnvelope(typ, payload, now))
}

// broadcast enqueues env to every connection bound to roomID.
// Slow consumers are skipped: dropping a fan-out frame beats blocking the room.
func (g *Gateway) broadcast(roomID string, env v1.Envelope) {
	conns := g.dir.RoomConnections(roomID)

	g.mu.Lock()
	clients := make([]*Client, 0, len(conns))
	for _, id := range conns {
		if c, ok := g.roster[id]; ok {
			clients = append(clients, c)
		}
	}
	g.mu.Unlock()

	for _, c := range clients {
		select {
		case <-c.Done():
		case c.Send <- env:
		default:
			g.log.Info("ws.broadcast.drop", "conn_id", c.ConnID, "type", env.Type)
		}
	}
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func messageFromEntry(e chat.LogEntry) v1.MessagePayload {
	return v1.MessagePayload{
		RoomID:    e.RoomID,
		Username:  e.Username,
		Text:      e.Text,
		Timestamp: e.Timestamp,
		Unix:      e.Unix,
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
