package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unisonfm/unison/internal/room/events"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*events.RoomEvent
}

func (p *capturePublisher) Publish(_ context.Context, event *events.RoomEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) all() []*events.RoomEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*events.RoomEvent, len(p.events))
	copy(out, p.events)
	return out
}

func decodeSession(t *testing.T, ev *events.RoomEvent) events.SessionPayload {
	t.Helper()
	var p events.SessionPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("decode session payload: %v", err)
	}
	return p
}

func TestCoordinatorAppliesAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	pub := &capturePublisher{}
	c := NewCoordinator(pub, clock)

	if _, err := c.Apply(ctx, "lounge", Command{Type: CommandSetTrack, TrackRef: "/media/a.mp3"}); err != nil {
		t.Fatalf("set_track: %v", err)
	}
	s, err := c.Apply(ctx, "lounge", Command{Type: CommandPlay})
	if err != nil {
		t.Fatalf("play: %v", err)
	}

	if want := clock.Now().Add(DefaultLead); !s.AnchorTime.Equal(want) {
		t.Errorf("anchor = %v, want %v", s.AnchorTime, want)
	}

	got := pub.all()
	if len(got) != 2 {
		t.Fatalf("published %d events, want 2", len(got))
	}
	if got[0].Type != events.EventTypeTrackUpdated || got[1].Type != events.EventTypePlay {
		t.Errorf("event types = %q, %q", got[0].Type, got[1].Type)
	}
	if got[1].RoomID != "lounge" {
		t.Errorf("room id = %q, want lounge", got[1].RoomID)
	}
	if got[1].ServerTimeMs != clock.Now().UnixMilli() {
		t.Errorf("server time = %d, want %d", got[1].ServerTimeMs, clock.Now().UnixMilli())
	}

	p := decodeSession(t, got[1])
	if p.Paused || p.TrackRef != "/media/a.mp3" {
		t.Errorf("play payload = %+v", p)
	}
	if p.AnchorTimeMs != clock.Now().Add(DefaultLead).UnixMilli() {
		t.Errorf("payload anchor = %d, want %d", p.AnchorTimeMs, clock.Now().Add(DefaultLead).UnixMilli())
	}
}

func TestCoordinatorRejectionPublishesNothing(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	c := NewCoordinator(pub, clockwork.NewFakeClock())

	if _, err := c.Apply(ctx, "lounge", Command{Type: CommandPlay}); err == nil {
		t.Fatal("play with no track must be rejected")
	}
	if got := pub.all(); len(got) != 0 {
		t.Errorf("rejected command published %d events, want 0", len(got))
	}
	s, seq := c.Snapshot("lounge")
	if s != NewSession() {
		t.Errorf("rejected command changed session: %+v", s)
	}
	if seq != 0 {
		t.Errorf("rejected command advanced sequence to %d", seq)
	}
}

func TestCoordinatorSnapshotCreatesRoom(t *testing.T) {
	c := NewCoordinator(&capturePublisher{}, clockwork.NewFakeClock())

	s, seq := c.Snapshot("never-seen")
	if s != NewSession() {
		t.Errorf("first snapshot = %+v, want empty session", s)
	}
	if seq != 0 {
		t.Errorf("first snapshot sequence = %d, want 0", seq)
	}
}

func TestCoordinatorRoomsAreIndependent(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	c := NewCoordinator(pub, clockwork.NewFakeClock())

	if _, err := c.Apply(ctx, "a", Command{Type: CommandSetTrack, TrackRef: "one"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Apply(ctx, "b", Command{Type: CommandSetTrack, TrackRef: "two"}); err != nil {
		t.Fatal(err)
	}

	if s, _ := c.Snapshot("a"); s.TrackRef != "one" {
		t.Errorf("room a track = %q", s.TrackRef)
	}
	if s, _ := c.Snapshot("b"); s.TrackRef != "two" {
		t.Errorf("room b track = %q", s.TrackRef)
	}
}

// Concurrent commands against one room must each see the previous command's
// result, and the broadcast order must match the application order.
func TestCoordinatorSerializesRoomCommands(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	c := NewCoordinator(pub, clockwork.NewFakeClock())

	if _, err := c.Apply(ctx, "lounge", Command{Type: CommandSetTrack, TrackRef: "t"}); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				pos := float64(w*perWorker + i)
				if _, err := c.Apply(ctx, "lounge", Command{Type: CommandPause, PositionMs: &pos}); err != nil {
					t.Errorf("pause: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	got := pub.all()
	if len(got) != workers*perWorker+1 {
		t.Fatalf("published %d events, want %d", len(got), workers*perWorker+1)
	}

	// The final broadcast must describe the final session, and sequences must
	// be dense: every applied command got exactly one stamp.
	last := decodeSession(t, got[len(got)-1])
	final, seq := c.Snapshot("lounge")
	if time.Duration(last.AnchorPositionMs*float64(time.Millisecond)) != final.AnchorPosition {
		t.Errorf("last broadcast position %vms, final session %v", last.AnchorPositionMs, final.AnchorPosition)
	}
	if !last.Paused || !final.Paused {
		t.Error("final state must be paused")
	}
	if seq != uint64(len(got)) {
		t.Errorf("final sequence = %d, want %d", seq, len(got))
	}
}

func TestCoordinatorStampsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	c := NewCoordinator(pub, clockwork.NewFakeClock())

	if _, err := c.Apply(ctx, "lounge", Command{Type: CommandSetTrack, TrackRef: "t"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Apply(ctx, "lounge", Command{Type: CommandPlay}); err != nil {
		t.Fatal(err)
	}
	pos := 100.0
	if _, err := c.Apply(ctx, "lounge", Command{Type: CommandPause, PositionMs: &pos}); err != nil {
		t.Fatal(err)
	}

	for i, ev := range pub.all() {
		if ev.RoomSeq != uint64(i+1) {
			t.Errorf("event %d sequence = %d, want %d", i, ev.RoomSeq, i+1)
		}
	}

	// A snapshot taken now carries the latest sequence, so a member holding
	// it can discard any of the broadcasts above.
	if _, seq := c.Snapshot("lounge"); seq != 3 {
		t.Errorf("snapshot sequence = %d, want 3", seq)
	}
	// Rooms count independently.
	if _, err := c.Apply(ctx, "kitchen", Command{Type: CommandSetTrack, TrackRef: "u"}); err != nil {
		t.Fatal(err)
	}
	if _, seq := c.Snapshot("kitchen"); seq != 1 {
		t.Errorf("kitchen sequence = %d, want 1", seq)
	}
}

func TestCoordinatorEventIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	c := NewCoordinator(pub, clockwork.NewFakeClock())

	for i := 0; i < 10; i++ {
		if _, err := c.Apply(ctx, "lounge", Command{Type: CommandSetTrack, TrackRef: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	seen := make(map[string]bool)
	for _, ev := range pub.all() {
		if seen[ev.ID] {
			t.Fatalf("duplicate event id %s", ev.ID)
		}
		seen[ev.ID] = true
	}
}
