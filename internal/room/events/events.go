package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoomEvent is the envelope for every message broadcast to room members.
// ServerTimeMs is the reference clock at the moment the event was produced,
// so clients can relate anchor times to their own clocks. RoomSeq is the
// room's command counter at the moment the event was produced: session events
// carry it so a client can discard a session older than one it already
// applied, whatever order the transport delivered them in.
type RoomEvent struct {
	ID           string          `json:"id"`
	RoomID       string          `json:"room_id"`
	Type         EventType       `json:"type"`
	ServerTimeMs int64           `json:"server_time_ms"`
	RoomSeq      uint64          `json:"room_seq"`
	Data         json.RawMessage `json:"data"`
}

// EventType represents the type of room event
type EventType string

const (
	EventTypeWelcome      EventType = "welcome"
	EventTypeTrackUpdated EventType = "track:updated"
	EventTypePlay         EventType = "play"
	EventTypePause        EventType = "pause"
	EventTypeSeek         EventType = "seek"
	EventTypeProbeReply   EventType = "probe:reply"
)

// NewRoomEvent builds an event envelope with a marshaled payload.
func NewRoomEvent(roomID string, typ EventType, serverTime time.Time, seq uint64, payload any) (*RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &RoomEvent{
		ID:           uuid.New().String(),
		RoomID:       roomID,
		Type:         typ,
		ServerTimeMs: serverTime.UnixMilli(),
		RoomSeq:      seq,
		Data:         data,
	}, nil
}

// ServerTime returns the envelope timestamp as a time.Time.
func (e *RoomEvent) ServerTime() time.Time {
	return time.UnixMilli(e.ServerTimeMs)
}
