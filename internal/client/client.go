// Package client is a headless room member: it joins a room over WebSocket,
// keeps its clock estimate fresh, feeds session broadcasts into the drift
// corrector, and lets callers issue playback commands.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/clocksync"
	"github.com/unisonfm/unison/internal/drift"
	"github.com/unisonfm/unison/internal/room"
	"github.com/unisonfm/unison/internal/room/events"
)

// Config holds client connection settings.
type Config struct {
	// ServerURL is the gateway base, e.g. "ws://localhost:8080".
	ServerURL string
	RoomID    string
	// ProbeInterval between clock-sync probes; zero selects the default.
	ProbeInterval time.Duration
	// Drift holds the corrector thresholds; zero values select defaults.
	Drift drift.Config
}

// Client is one connected room member.
type Client struct {
	cfg    Config
	clock  clockwork.Clock
	engine drift.Engine

	est    *clocksync.Estimator
	runner *clocksync.Runner
	corr   *drift.Corrector

	// lastSeq is the room sequence of the newest session applied. Only the
	// read loop touches it.
	lastSeq uint64

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New creates a client driving the given audio engine.
func New(cfg Config, engine drift.Engine, clock clockwork.Clock) *Client {
	c := &Client{
		cfg:    cfg,
		clock:  clock,
		engine: engine,
		est:    clocksync.NewEstimator(),
	}
	c.runner = clocksync.NewRunner(c.est, c.sendProbe, clock, cfg.ProbeInterval)
	c.corr = drift.NewCorrector(engine, c.est, clock, cfg.Drift)
	return c
}

// Estimate exposes the client's current clock estimate.
func (c *Client) Estimate() (clocksync.Estimate, bool) {
	return c.est.Estimate()
}

// Run connects to the gateway and processes messages until ctx is done or
// the connection fails. A reconnecting caller should create a fresh Run: the
// server treats every connection as a new join and the clock re-syncs from
// scratch.
func (c *Client) Run(ctx context.Context) error {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	u.Path = "/ws/room"
	u.RawQuery = url.Values{"room_id": {c.cfg.RoomID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.conn = conn
	defer conn.Close()

	log.Info().Str("room_id", c.cfg.RoomID).Str("url", u.String()).Msg("joined room")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.corr.Run(runCtx)
	go c.runner.Run(runCtx)
	go func() {
		<-runCtx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read gateway message: %w", err)
		}
		c.handleEvent(data)
	}
}

// handleEvent routes one broadcast or unicast event from the gateway.
func (c *Client) handleEvent(data []byte) {
	var event events.RoomEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Debug().Err(err).Msg("dropping malformed room event")
		return
	}

	switch event.Type {
	case events.EventTypeProbeReply:
		var reply events.ProbeReplyPayload
		if err := json.Unmarshal(event.Data, &reply); err != nil {
			log.Debug().Err(err).Msg("dropping malformed probe reply")
			return
		}
		c.runner.HandleReply(reply.ClientSendMs, reply.ServerTimeMs)

	case events.EventTypeWelcome, events.EventTypeTrackUpdated,
		events.EventTypePlay, events.EventTypePause, events.EventTypeSeek:
		// A welcome snapshot and a command broadcast can arrive in either
		// order around a join; the room sequence decides which is current.
		if event.RoomSeq < c.lastSeq {
			log.Debug().
				Str("type", string(event.Type)).
				Uint64("room_seq", event.RoomSeq).
				Uint64("last_seq", c.lastSeq).
				Msg("dropping stale session event")
			return
		}
		var payload events.SessionPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			log.Debug().Err(err).Str("type", string(event.Type)).Msg("dropping malformed session payload")
			return
		}
		c.lastSeq = event.RoomSeq
		log.Debug().
			Str("type", string(event.Type)).
			Str("track_ref", payload.TrackRef).
			Bool("paused", payload.Paused).
			Msg("session broadcast")
		c.corr.OnSession(room.SessionFromPayload(payload))

	default:
		log.Warn().Str("type", string(event.Type)).Msg("unknown room event type")
	}
}

// SetTrack sets the room's track to an uploaded ref.
func (c *Client) SetTrack(ref string) error {
	return c.sendCommand(room.CommandSetTrack, room.Command{TrackRef: ref})
}

// Play starts playback from the room's current position, anchored at the
// coordinator's default future lead.
func (c *Client) Play() error {
	return c.sendCommand(room.CommandPlay, room.Command{})
}

// PlayFrom starts playback from a specific position.
func (c *Client) PlayFrom(pos time.Duration) error {
	ms := float64(pos) / float64(time.Millisecond)
	return c.sendCommand(room.CommandPlay, room.Command{PositionMs: &ms})
}

// Pause pauses the room at the engine's current position.
func (c *Client) Pause() error {
	ms := float64(c.engine.Position()) / float64(time.Millisecond)
	return c.sendCommand(room.CommandPause, room.Command{PositionMs: &ms})
}

// Seek moves the room timeline to pos without changing paused state.
func (c *Client) Seek(pos time.Duration) error {
	ms := float64(pos) / float64(time.Millisecond)
	return c.sendCommand(room.CommandSeek, room.Command{PositionMs: &ms})
}

func (c *Client) sendCommand(typ room.CommandType, cmd room.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal %s command: %w", typ, err)
	}
	return c.send(events.ClientMessage{Type: string(typ), Data: data})
}

func (c *Client) sendProbe(clientSendMs int64) error {
	data, err := json.Marshal(events.ProbePayload{ClientSendMs: clientSendMs})
	if err != nil {
		return fmt.Errorf("marshal probe: %w", err)
	}
	return c.send(events.ClientMessage{Type: events.MessageTypeProbe, Data: data})
}

func (c *Client) send(msg events.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal client message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
