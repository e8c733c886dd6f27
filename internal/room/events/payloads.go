package events

import "encoding/json"

// Payload types shared between the room coordinator, the gateway and clients.

// SessionPayload carries the authoritative room session fields. Every
// session-changing event (welcome, track:updated, play, pause, seek) carries
// the full session, not a delta, so a client can always rebuild its view from
// the latest event alone.
type SessionPayload struct {
	TrackRef         string  `json:"track_ref,omitempty"`
	Paused           bool    `json:"paused"`
	AnchorPositionMs float64 `json:"anchor_position_ms"`
	// AnchorTimeMs is the reference-clock instant AnchorPositionMs corresponds
	// to, unix milliseconds. Zero means no anchor (paused, never started).
	AnchorTimeMs int64 `json:"anchor_time_ms,omitempty"`
}

// ProbeReplyPayload answers a clock-sync probe. ClientSendMs echoes the
// client's own send timestamp untouched; only the client can interpret it.
type ProbeReplyPayload struct {
	ClientSendMs int64 `json:"client_send_ms"`
	ServerTimeMs int64 `json:"server_time_ms"`
}

// ProbePayload is the inbound half of the clock-sync exchange.
type ProbePayload struct {
	ClientSendMs int64 `json:"client_send_ms"`
}

// ClientMessage is the envelope for everything a member sends over its
// connection: the four playback commands plus clock-sync probes. Type is a
// room.CommandType string or MessageTypeProbe.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageTypeProbe is the inbound clock-sync probe; it is transport-only and
// never reaches the coordinator.
const MessageTypeProbe = "probe"
