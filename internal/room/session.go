package room

import (
	"time"

	"github.com/unisonfm/unison/internal/room/events"
)

// Session is the authoritative playback timeline for one room.
//
// When Paused is true the current position is exactly AnchorPosition and
// AnchorTime is ignored. When Paused is false the position at reference time t
// is AnchorPosition + (t - AnchorTime), and AnchorTime is always a
// reference-clock instant, never a client-local one.
type Session struct {
	TrackRef       string
	Paused         bool
	AnchorPosition time.Duration
	AnchorTime     time.Time
}

// NewSession returns the empty session a room starts with: no track, paused
// at position zero.
func NewSession() Session {
	return Session{Paused: true}
}

// HasTrack reports whether a track has been set for the room.
func (s Session) HasTrack() bool {
	return s.TrackRef != ""
}

// PositionAt returns the playback position implied by the timeline at
// reference time t. Paused sessions report their anchor position regardless
// of t; a playing session whose anchor is still in the future reports the
// anchor position (playback has not begun).
func (s Session) PositionAt(t time.Time) time.Duration {
	if s.Paused || s.AnchorTime.IsZero() || t.Before(s.AnchorTime) {
		return s.AnchorPosition
	}
	return s.AnchorPosition + t.Sub(s.AnchorTime)
}

// Payload converts the session to its wire representation.
func (s Session) Payload() events.SessionPayload {
	p := events.SessionPayload{
		TrackRef:         s.TrackRef,
		Paused:           s.Paused,
		AnchorPositionMs: float64(s.AnchorPosition) / float64(time.Millisecond),
	}
	if !s.AnchorTime.IsZero() {
		p.AnchorTimeMs = s.AnchorTime.UnixMilli()
	}
	return p
}

// SessionFromPayload rebuilds a session from its wire representation.
func SessionFromPayload(p events.SessionPayload) Session {
	s := Session{
		TrackRef:       p.TrackRef,
		Paused:         p.Paused,
		AnchorPosition: time.Duration(p.AnchorPositionMs * float64(time.Millisecond)),
	}
	if p.AnchorTimeMs != 0 {
		s.AnchorTime = time.UnixMilli(p.AnchorTimeMs)
	}
	return s
}
