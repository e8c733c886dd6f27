package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/room/events"
)

// Publisher defines what the coordinator needs from the event bus
type Publisher interface {
	Publish(ctx context.Context, event *events.RoomEvent) error
}

// Coordinator owns every room session and is the only writer of session
// state. Commands for one room are applied under that room's lock, in arrival
// order, and the resulting event is published before the lock is released, so
// the broadcast order always matches the application order. Commands for
// different rooms proceed in parallel.
type Coordinator struct {
	pub   Publisher
	clock clockwork.Clock

	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	mu      sync.Mutex
	session Session
	// seq counts applied commands. It stamps every broadcast and snapshot, so
	// members can order a welcome snapshot against command broadcasts.
	seq uint64
}

// NewCoordinator creates a session coordinator publishing to pub.
func NewCoordinator(pub Publisher, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		pub:   pub,
		clock: clock,
		rooms: make(map[string]*roomEntry),
	}
}

// entry returns the room's entry, creating an empty session on first
// reference to the room id.
func (c *Coordinator) entry(roomID string) *roomEntry {
	c.mu.RLock()
	e, ok := c.rooms[roomID]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.rooms[roomID]; ok {
		return e
	}
	e = &roomEntry{session: NewSession()}
	c.rooms[roomID] = e
	return e
}

// Apply runs a command against a room and broadcasts the resulting session.
// Rejected commands (missing track, malformed position, unknown type) leave
// the session untouched and broadcast nothing; the issuing connection is not
// otherwise penalized.
func (c *Coordinator) Apply(ctx context.Context, roomID string, cmd Command) (Session, error) {
	e := c.entry(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := c.clock.Now()
	next, typ, err := apply(e.session, cmd, now)
	if err != nil {
		log.Debug().
			Err(err).
			Str("room_id", roomID).
			Str("command", string(cmd.Type)).
			Msg("command rejected")
		return Session{}, err
	}
	e.session = next
	e.seq++

	event, err := events.NewRoomEvent(roomID, typ, now, e.seq, next.Payload())
	if err != nil {
		// State is already applied; members catch up on their next welcome.
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build room event")
		return next, nil
	}
	if err := c.pub.Publish(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("event_type", string(typ)).
			Msg("failed to publish room event")
	}
	return next, nil
}

// Snapshot returns the room's current session and command sequence, creating
// the room on first reference. Used for welcome delivery to newly joined
// members; the sequence lets the member discard any stale session broadcast
// delivered after the welcome.
func (c *Coordinator) Snapshot(roomID string) (Session, uint64) {
	e := c.entry(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, e.seq
}

// Now exposes the coordinator's reference clock so the transport layer can
// stamp snapshots and probe replies from the same clock commands are
// anchored against.
func (c *Coordinator) Now() time.Time {
	return c.clock.Now()
}
