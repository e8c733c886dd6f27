package room

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unisonfm/unison/internal/room/events"
)

// DefaultLead is added to the reference clock when a play or seek command
// arrives without an explicit anchor time. The lead gives the broadcast time
// to reach every member and lets each member arm its scheduled start before
// the instant arrives; without it, "start immediately" drifts apart by each
// member's individual network latency.
const DefaultLead = 500 * time.Millisecond

// CommandType identifies a playback command.
type CommandType string

const (
	CommandSetTrack CommandType = "set_track"
	CommandPlay     CommandType = "play"
	CommandPause    CommandType = "pause"
	CommandSeek     CommandType = "seek"
)

var (
	ErrNoTrack        = errors.New("no track set for room")
	ErrBadPosition    = errors.New("position missing or not finite")
	ErrMissingTrack   = errors.New("track ref is required")
	ErrUnknownCommand = errors.New("unknown command type")
)

// Command is one playback command as received from a client. Position and
// anchor are pointers so "absent" is distinguishable from zero. Commands are
// not connection-scoped: any member may issue any command.
type Command struct {
	Type       CommandType `json:"-"`
	TrackRef   string      `json:"track_ref,omitempty"`
	PositionMs *float64    `json:"position_ms,omitempty"`
	// AnchorTimeMs is a reference-clock instant, unix milliseconds.
	AnchorTimeMs *int64 `json:"anchor_time_ms,omitempty"`
}

func (c Command) position() (time.Duration, error) {
	if c.PositionMs == nil {
		return 0, ErrBadPosition
	}
	ms := *c.PositionMs
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return 0, fmt.Errorf("%w: %v", ErrBadPosition, ms)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// anchorOrDefault resolves the command's anchor time, falling back to
// now + DefaultLead when the client supplied none.
func (c Command) anchorOrDefault(now time.Time) time.Time {
	if c.AnchorTimeMs != nil {
		return time.UnixMilli(*c.AnchorTimeMs)
	}
	return now.Add(DefaultLead)
}

// apply runs one command against a session and returns the resulting session
// and the event type to broadcast. It is a pure function of (session, command,
// reference now); the coordinator provides serialization around it. A non-nil
// error means the command was rejected and nothing must be broadcast.
func apply(s Session, cmd Command, now time.Time) (Session, events.EventType, error) {
	switch cmd.Type {
	case CommandSetTrack:
		if cmd.TrackRef == "" {
			return s, "", ErrMissingTrack
		}
		return Session{
			TrackRef:       cmd.TrackRef,
			Paused:         true,
			AnchorPosition: 0,
		}, events.EventTypeTrackUpdated, nil

	case CommandPlay:
		if !s.HasTrack() {
			return s, "", ErrNoTrack
		}
		pos := s.AnchorPosition
		if cmd.PositionMs != nil {
			p, err := cmd.position()
			if err != nil {
				return s, "", err
			}
			pos = p
		}
		s.Paused = false
		s.AnchorPosition = pos
		s.AnchorTime = cmd.anchorOrDefault(now)
		return s, events.EventTypePlay, nil

	case CommandPause:
		pos, err := cmd.position()
		if err != nil {
			return s, "", err
		}
		// The issuing client's reported position is trusted as authoritative.
		s.Paused = true
		s.AnchorPosition = pos
		s.AnchorTime = time.Time{}
		return s, events.EventTypePause, nil

	case CommandSeek:
		pos, err := cmd.position()
		if err != nil {
			return s, "", err
		}
		// Paused is deliberately untouched: seeking while paused stores the
		// new position, seeking while playing re-anchors the running timeline.
		s.AnchorPosition = pos
		s.AnchorTime = cmd.anchorOrDefault(now)
		return s, events.EventTypeSeek, nil

	default:
		return s, "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}
