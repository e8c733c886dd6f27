// Package bus carries room events from the coordinator to the gateway. The
// in-process bus is the default; the JetStream bus covers deployments where
// the coordinator and gateways run as separate instances.
package bus

import (
	"context"

	"github.com/unisonfm/unison/internal/room/events"
)

// Handler consumes one room event. Handlers for one room are invoked in
// publish order.
type Handler func(event *events.RoomEvent)

// Publisher is the coordinator-facing side of the bus.
type Publisher interface {
	Publish(ctx context.Context, event *events.RoomEvent) error
}
