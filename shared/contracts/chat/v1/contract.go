// Package v1 defines the Hearth Chat Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeAuthenticate presents a bearer token for an open connection (client -> server).
	TypeAuthenticate = "authenticate"
	// TypeAuthenticateAck confirms authentication (server -> client).
	TypeAuthenticateAck = "authenticate_ack"

	// TypeRoomJoin joins a room (client -> server).
	TypeRoomJoin = "room_join"
	// TypeRoomJoinAck confirms a join and carries membership plus recent history (server -> client).
	TypeRoomJoinAck = "room_join_ack"

	// TypeMessageSend requests appending a new message to the joined room (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageNew broadcasts a newly stored message (server -> room members).
	TypeMessageNew = "message_new"

	// TypeHeartbeat carries the current bearer token for liveness and renewal checks (client -> server).
	TypeHeartbeat = "heartbeat"
	// TypeTokenRenew pushes a freshly issued token to the connection (server -> client).
	// The previous token stays valid until its own expiry.
	TypeTokenRenew = "token_renew"

	// TypePresenceJoin announces an identity entering a room (server -> room members).
	TypePresenceJoin = "presence_join"
	// TypePresenceLeave announces an identity leaving a room (server -> room members).
	TypePresenceLeave = "presence_leave"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// ClientTypes enumerates the envelope types a client may send.
var ClientTypes = map[string]struct{}{
	TypeAuthenticate: {},
	TypeRoomJoin:     {},
	TypeMessageSend:  {},
	TypeHeartbeat:    {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks structural envelope invariants for client-sent envelopes.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%q want=%q", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := ClientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// AuthenticatePayload carries the bearer token presented by a connection.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// AuthenticateAckPayload confirms authentication.
type AuthenticateAckPayload struct {
	ConnectionID string    `json:"connection_id"`
	Username     string    `json:"username"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RoomJoinPayload requests joining a room by id.
type RoomJoinPayload struct {
	RoomID string `json:"room_id"`
}

// RoomJoinAckPayload confirms a join.
type RoomJoinAckPayload struct {
	RoomID   string           `json:"room_id"`
	RoomName string           `json:"room_name"`
	Members  []string         `json:"members"`
	Recent   []MessagePayload `json:"recent,omitempty"`
}

// MessageSendPayload requests appending a message to the joined room.
type MessageSendPayload struct {
	Text string `json:"text"`
}

// MessagePayload is one stored chat message as broadcast to room members.
type MessagePayload struct {
	RoomID    string `json:"room_id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Unix      int64  `json:"unix"`
}

// HeartbeatPayload carries the token currently held by the connection.
type HeartbeatPayload struct {
	Token string `json:"token"`
}

// TokenRenewPayload pushes a freshly issued token to the connection.
type TokenRenewPayload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresencePayload announces a membership change in a room.
type PresencePayload struct {
	RoomID   string   `json:"room_id"`
	Username string   `json:"username"`
	Members  []string `json:"members"`
}

// ErrorPayload is a generic error message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
