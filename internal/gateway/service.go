package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/room"
	"github.com/unisonfm/unison/internal/room/events"
)

// Coordinator defines what the gateway needs from the session coordinator
type Coordinator interface {
	Apply(ctx context.Context, roomID string, cmd room.Command) (room.Session, error)
	Snapshot(roomID string) (room.Session, uint64)
	Now() time.Time
}

// Service is the room gateway: it accepts member connections, routes their
// commands to the coordinator, answers clock probes, and fans coordinator
// events back out to the members of each room.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	coordinator       Coordinator
}

// Config holds configuration for the room gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

// NewService creates a new room gateway service
func NewService(config Config, coordinator Coordinator) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	s := &Service{
		connectionManager: cm,
		coordinator:       coordinator,
	}
	cm.SetMessageHandler(s)
	s.wsHandler = NewWebSocketHandler(s)
	return s
}

// Start runs the broadcast loop until ctx is done.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting room gateway service")
	s.connectionManager.Start(ctx)
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// HandleRoomEvent is the bus handler: every coordinator event is fanned out
// to the event's room.
func (s *Service) HandleRoomEvent(event *events.RoomEvent) {
	s.connectionManager.BroadcastToRoom(event.RoomID, event)
}

// Stats returns statistics about the gateway service
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// HandleClientMessage routes one inbound member message. Malformed messages
// and rejected commands are dropped without a reply; the issuing connection
// is not otherwise penalized.
func (s *Service) HandleClientMessage(conn *Connection, data []byte) {
	var msg events.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("dropping malformed client message")
		return
	}

	switch msg.Type {
	case events.MessageTypeProbe:
		s.handleProbe(conn, msg.Data)

	case string(room.CommandSetTrack), string(room.CommandPlay),
		string(room.CommandPause), string(room.CommandSeek):
		cmd := room.Command{Type: room.CommandType(msg.Type)}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &cmd); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", conn.ID).
					Str("command", msg.Type).
					Msg("dropping malformed command payload")
				return
			}
		}
		if _, err := s.coordinator.Apply(context.Background(), conn.RoomID, cmd); err != nil {
			log.Debug().
				Err(err).
				Str("room_id", conn.RoomID).
				Str("command", msg.Type).
				Msg("command rejected by coordinator")
		}

	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("type", msg.Type).
			Msg("unknown client message type")
	}
}

// handleProbe answers a clock-sync probe. Probes are stateless request/reply:
// echo the client's send timestamp, attach the reference clock, unicast back.
func (s *Service) handleProbe(conn *Connection, data []byte) {
	var probe events.ProbePayload
	if err := json.Unmarshal(data, &probe); err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("dropping malformed probe")
		return
	}

	now := s.coordinator.Now()
	reply, err := events.NewRoomEvent(conn.RoomID, events.EventTypeProbeReply, now, 0, events.ProbeReplyPayload{
		ClientSendMs: probe.ClientSendMs,
		ServerTimeMs: now.UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build probe reply")
		return
	}
	s.connectionManager.SendToConnection(conn, reply)
}

// sendWelcome delivers the room's current session snapshot plus the current
// reference time to a newly joined connection, so it can compute "playing
// since" without waiting for the next command. The connection is registered
// for broadcasts before the snapshot is taken, so the snapshot's sequence is
// at least that of any broadcast the member missed; a command broadcast
// enqueued between snapshot and welcome delivery can reach the member first,
// and the member uses the sequence to discard whichever session is older.
func (s *Service) sendWelcome(conn *Connection) {
	snapshot, seq := s.coordinator.Snapshot(conn.RoomID)
	event, err := events.NewRoomEvent(conn.RoomID, events.EventTypeWelcome, s.coordinator.Now(), seq, snapshot.Payload())
	if err != nil {
		log.Error().Err(err).Str("room_id", conn.RoomID).Msg("failed to build welcome event")
		return
	}
	s.connectionManager.SendToConnection(conn, event)
}
