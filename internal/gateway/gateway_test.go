package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/unisonfm/unison/internal/bus"
	"github.com/unisonfm/unison/internal/room"
	"github.com/unisonfm/unison/internal/room/events"
)

func newTestGateway(t *testing.T) (*httptest.Server, *room.Coordinator) {
	t.Helper()

	memBus := bus.NewMemoryBus()
	coordinator := room.NewCoordinator(memBus, clockwork.NewRealClock())
	gw := NewService(DefaultConfig(), coordinator)
	memBus.Subscribe(gw.HandleRoomEvent)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go gw.Start(ctx)

	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, coordinator
}

func dialRoom(t *testing.T, srv *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room?room_id=" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *events.RoomEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev events.RoomEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return &ev
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	msg := events.ClientMessage{Type: msgType, Data: data}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func sessionOf(t *testing.T, ev *events.RoomEvent) events.SessionPayload {
	t.Helper()
	var p events.SessionPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("decode session payload: %v", err)
	}
	return p
}

func TestJoinReceivesWelcomeSnapshot(t *testing.T) {
	srv, _ := newTestGateway(t)
	conn := dialRoom(t, srv, "lounge")

	ev := readEvent(t, conn)
	if ev.Type != events.EventTypeWelcome {
		t.Fatalf("first event = %s, want welcome", ev.Type)
	}
	if ev.RoomID != "lounge" {
		t.Errorf("room id = %q, want lounge", ev.RoomID)
	}
	if ev.ServerTimeMs == 0 {
		t.Error("welcome must carry the reference clock")
	}

	p := sessionOf(t, ev)
	if !p.Paused || p.TrackRef != "" || p.AnchorPositionMs != 0 {
		t.Errorf("fresh room snapshot = %+v, want paused at zero with no track", p)
	}
}

func TestJoinRequiresRoomID(t *testing.T) {
	srv, _ := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/ws/room")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCommandsBroadcastToAllRoomMembers(t *testing.T) {
	srv, _ := newTestGateway(t)

	alice := dialRoom(t, srv, "lounge")
	readEvent(t, alice) // welcome
	bob := dialRoom(t, srv, "lounge")
	readEvent(t, bob) // welcome

	sendMessage(t, alice, "set_track", room.Command{TrackRef: "/media/a.mp3"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := readEvent(t, conn)
		if ev.Type != events.EventTypeTrackUpdated {
			t.Fatalf("event = %s, want track:updated", ev.Type)
		}
		p := sessionOf(t, ev)
		if p.TrackRef != "/media/a.mp3" || !p.Paused {
			t.Errorf("payload = %+v, want new track paused at zero", p)
		}
	}
}

func TestPlayWithoutAnchorSharesOneResolvedAnchor(t *testing.T) {
	srv, _ := newTestGateway(t)

	alice := dialRoom(t, srv, "lounge")
	readEvent(t, alice)
	bob := dialRoom(t, srv, "lounge")
	readEvent(t, bob)

	sendMessage(t, alice, "set_track", room.Command{TrackRef: "/media/a.mp3"})
	readEvent(t, alice)
	readEvent(t, bob)

	sendMessage(t, bob, "play", room.Command{})

	evA := readEvent(t, alice)
	evB := readEvent(t, bob)
	if evA.Type != events.EventTypePlay || evB.Type != events.EventTypePlay {
		t.Fatalf("events = %s, %s, want play", evA.Type, evB.Type)
	}

	pA := sessionOf(t, evA)
	pB := sessionOf(t, evB)
	if pA.AnchorTimeMs == 0 {
		t.Fatal("play broadcast must carry a resolved anchor time")
	}
	if pA.AnchorTimeMs != pB.AnchorTimeMs {
		t.Errorf("members saw different anchors: %d vs %d", pA.AnchorTimeMs, pB.AnchorTimeMs)
	}
	// The defaulted anchor leads the server clock by the standard lead.
	lead := pA.AnchorTimeMs - evA.ServerTimeMs
	if lead != room.DefaultLead.Milliseconds() {
		t.Errorf("anchor lead = %dms, want %dms", lead, room.DefaultLead.Milliseconds())
	}
}

func TestBroadcastOrderMatchesCommandOrder(t *testing.T) {
	srv, _ := newTestGateway(t)

	alice := dialRoom(t, srv, "lounge")
	readEvent(t, alice)

	sendMessage(t, alice, "set_track", room.Command{TrackRef: "/media/a.mp3"})
	sendMessage(t, alice, "play", room.Command{})
	pos := 1200.0
	sendMessage(t, alice, "pause", room.Command{PositionMs: &pos})

	want := []events.EventType{events.EventTypeTrackUpdated, events.EventTypePlay, events.EventTypePause}
	var lastSeq uint64
	for i, typ := range want {
		ev := readEvent(t, alice)
		if ev.Type != typ {
			t.Fatalf("event %d = %s, want %s", i, ev.Type, typ)
		}
		if ev.RoomSeq <= lastSeq {
			t.Errorf("event %d sequence = %d, not after %d", i, ev.RoomSeq, lastSeq)
		}
		lastSeq = ev.RoomSeq
	}
}

func TestRejectedCommandBroadcastsNothing(t *testing.T) {
	srv, coordinator := newTestGateway(t)

	alice := dialRoom(t, srv, "lounge")
	readEvent(t, alice)

	// Play with no track is rejected: the next broadcast alice sees must be
	// the set_track that follows, not a play.
	sendMessage(t, alice, "play", room.Command{})
	sendMessage(t, alice, "set_track", room.Command{TrackRef: "/media/a.mp3"})

	ev := readEvent(t, alice)
	if ev.Type != events.EventTypeTrackUpdated {
		t.Fatalf("event = %s, want track:updated (rejected play must be silent)", ev.Type)
	}
	if s, _ := coordinator.Snapshot("lounge"); !s.Paused {
		t.Error("rejected play must not change the session")
	}
}

func TestRoomsDoNotLeakEvents(t *testing.T) {
	srv, _ := newTestGateway(t)

	alice := dialRoom(t, srv, "lounge")
	readEvent(t, alice)
	carol := dialRoom(t, srv, "kitchen")
	readEvent(t, carol)

	sendMessage(t, alice, "set_track", room.Command{TrackRef: "/media/a.mp3"})
	readEvent(t, alice)

	// Carol must see nothing from the lounge.
	carol.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := carol.ReadMessage(); err == nil {
		t.Error("kitchen member received a lounge event")
	}
}

func TestProbeReplyEchoesSendTimestamp(t *testing.T) {
	srv, _ := newTestGateway(t)

	alice := dialRoom(t, srv, "lounge")
	readEvent(t, alice)
	bob := dialRoom(t, srv, "lounge")
	readEvent(t, bob)

	sendMessage(t, alice, events.MessageTypeProbe, events.ProbePayload{ClientSendMs: 123456})

	ev := readEvent(t, alice)
	if ev.Type != events.EventTypeProbeReply {
		t.Fatalf("event = %s, want probe:reply", ev.Type)
	}
	var reply events.ProbeReplyPayload
	if err := json.Unmarshal(ev.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.ClientSendMs != 123456 {
		t.Errorf("echoed send time = %d, want 123456", reply.ClientSendMs)
	}
	if reply.ServerTimeMs == 0 {
		t.Error("reply must carry the reference clock")
	}

	// Probe replies are unicast: bob sees nothing.
	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := bob.ReadMessage(); err == nil {
		t.Error("probe reply leaked to another member")
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	srv, _ := newTestGateway(t)

	alice := dialRoom(t, srv, "lounge")
	readEvent(t, alice)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	sendMessage(t, alice, "teleport", room.Command{})

	// The connection survives both and still serves commands.
	sendMessage(t, alice, "set_track", room.Command{TrackRef: "/media/a.mp3"})
	ev := readEvent(t, alice)
	if ev.Type != events.EventTypeTrackUpdated {
		t.Fatalf("event = %s, want track:updated after garbage input", ev.Type)
	}
}

func TestLateJoinerSnapshotImpliesElapsedPosition(t *testing.T) {
	srv, _ := newTestGateway(t)

	alice := dialRoom(t, srv, "lounge")
	readEvent(t, alice)

	sendMessage(t, alice, "set_track", room.Command{TrackRef: "/media/a.mp3"})
	readEvent(t, alice)
	pos := 30_000.0
	anchor := time.Now().Add(-10 * time.Second).UnixMilli()
	sendMessage(t, alice, "play", room.Command{PositionMs: &pos, AnchorTimeMs: &anchor})
	readEvent(t, alice)

	bob := dialRoom(t, srv, "lounge")
	welcome := readEvent(t, bob)
	p := sessionOf(t, welcome)
	if p.Paused {
		t.Fatal("welcome must show the room playing")
	}
	if welcome.RoomSeq != 2 {
		t.Errorf("welcome sequence = %d, want 2 after two commands", welcome.RoomSeq)
	}

	s := room.SessionFromPayload(p)
	got := s.PositionAt(welcome.ServerTime())
	if got < 39*time.Second || got > 42*time.Second {
		t.Errorf("implied position = %v, want about 40s", got)
	}
}

func TestConnectionStatsEndpoint(t *testing.T) {
	srv, _ := newTestGateway(t)

	conn := dialRoom(t, srv, "lounge")
	readEvent(t, conn)

	resp, err := http.Get(srv.URL + "/ws/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats ConnectionStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalConnections != 1 {
		t.Errorf("total connections = %d, want 1", stats.TotalConnections)
	}
	if stats.RoomConnections["lounge"] != 1 {
		t.Errorf("lounge connections = %d, want 1", stats.RoomConnections["lounge"])
	}
	if stats.ActiveRooms != 1 {
		t.Errorf("active rooms = %d, want 1", stats.ActiveRooms)
	}
}

// The broadcast loop snapshots its targets before sending, so a connection
// can unregister (closing its send channel) in between. That send must fail
// cleanly, never panic.
func TestBroadcastToDepartedConnectionDoesNotPanic(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := &Connection{
		ID:     "c1",
		RoomID: "lounge",
		Send:   make(chan []byte, 1),
	}
	cm.registerConnection(conn)

	ev, err := events.NewRoomEvent("lounge", events.EventTypePlay, time.Now(), 1, events.SessionPayload{})
	if err != nil {
		t.Fatal(err)
	}

	// Departs after being chosen as a target: both the unicast and the room
	// fanout paths must tolerate the closed send channel.
	cm.unregisterConnection(conn)
	cm.handleBroadcast(BroadcastMessage{RoomID: "lounge", Event: ev, Target: conn})
	cm.handleBroadcast(BroadcastMessage{RoomID: "lounge", Event: ev})

	if conn.trySend([]byte("late")) {
		t.Error("send to a departed connection must report failure")
	}
	// readPump and writePump both unregister on teardown.
	cm.unregisterConnection(conn)
}

func TestBroadcastDuringDisconnectChurn(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	ev, err := events.NewRoomEvent("lounge", events.EventTypePlay, time.Now(), 1, events.SessionPayload{})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		conn := &Connection{
			ID:     fmt.Sprintf("c%d", i),
			RoomID: "lounge",
			Send:   make(chan []byte, 1),
		}
		cm.registerConnection(conn)
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			cm.unregisterConnection(c)
		}(conn)
	}
	for i := 0; i < 200; i++ {
		cm.handleBroadcast(BroadcastMessage{RoomID: "lounge", Event: ev})
	}
	wg.Wait()

	if stats := cm.GetConnectionStats(); stats.TotalConnections != 0 {
		t.Errorf("connections after churn = %d, want 0", stats.TotalConnections)
	}
}
