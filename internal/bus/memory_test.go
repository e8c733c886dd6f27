package bus

import (
	"context"
	"fmt"
	"testing"

	"github.com/unisonfm/unison/internal/room/events"
)

func TestMemoryBusDeliversInPublishOrder(t *testing.T) {
	b := NewMemoryBus()

	var got []string
	b.Subscribe(func(ev *events.RoomEvent) {
		got = append(got, ev.ID)
	})

	for i := 0; i < 5; i++ {
		err := b.Publish(context.Background(), &events.RoomEvent{ID: fmt.Sprintf("e%d", i)})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(got) != 5 {
		t.Fatalf("delivered %d events, want 5", len(got))
	}
	for i, id := range got {
		if want := fmt.Sprintf("e%d", i); id != want {
			t.Errorf("event %d = %s, want %s", i, id, want)
		}
	}
}

func TestMemoryBusFansOutToAllSubscribers(t *testing.T) {
	b := NewMemoryBus()

	var first, second int
	b.Subscribe(func(*events.RoomEvent) { first++ })
	b.Subscribe(func(*events.RoomEvent) { second++ })

	if err := b.Publish(context.Background(), &events.RoomEvent{ID: "e"}); err != nil {
		t.Fatal(err)
	}
	if first != 1 || second != 1 {
		t.Errorf("deliveries = %d, %d, want 1, 1", first, second)
	}
}
