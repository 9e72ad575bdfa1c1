package ws

import "encoding/json"

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "join-room"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

type outEnvelope struct {
	Event string `json:"event"`
	Body  any    `json:"body,omitempty"`
}

// ──────────────────────────── Request DTOs ───────────────────────────────────

// JoinRoomRequest is the body for "join-room". The url is informational; the
// widget derives roomId from it before connecting.
type JoinRoomRequest struct {
	RoomID   string `json:"roomId"   validate:"max=100"`
	URL      string `json:"url"      validate:"omitempty,max=2048"`
	Username string `json:"username" validate:"omitempty,max=64"`
}

// SendMessageRequest is the body for "send-message".
type SendMessageRequest struct {
	Text   string `json:"text"`
	RoomID string `json:"roomId" validate:"max=100"`
}

// SendWaveRequest is the body for "send-wave".
type SendWaveRequest struct {
	RoomID string `json:"roomId" validate:"max=100"`
}

// LeaveRoomRequest is the (empty) body for "leave-room".
type LeaveRoomRequest struct{}

// ──────────────────────────── Broadcast DTOs ─────────────────────────────────

type RoomUser struct {
	Username string `json:"username"`
}

// RoomJoinedBody confirms a join to the joiner only.
type RoomJoinedBody struct {
	RoomID    string     `json:"roomId"`
	Username  string     `json:"username"`
	UserCount int        `json:"userCount"`
	Users     []RoomUser `json:"users"`
}

type UserJoinedBody struct {
	Username  string `json:"username"`
	UserCount int    `json:"userCount"`
}

type UserLeftBody struct {
	Username  string `json:"username"`
	UserCount int    `json:"userCount"`
}

type UserCountBody struct {
	Count int `json:"count"`
}

type MessageBody struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

type WaveBody struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId"`
}

// ErrorBody is sent to the originating connection on any failure.
type ErrorBody struct {
	Message string `json:"message"`
}
