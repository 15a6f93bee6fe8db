package interfaces

import "parley/pkg/types"

// RoomListener receives room state changes.
// Calls are synchronous and at most once per event. Implementations must
// return quickly and must not mutate the room that notified them.
type RoomListener interface {
	OnNewRoom(room types.RoomInfo)
	OnMessage(msg types.Message, room types.RoomInfo)
	OnReaction(reaction types.Reaction, room types.RoomInfo)

	// IsActive reports liveness; inactive listeners are pruned lazily.
	IsActive() bool
}

// EventPublisher hands an event to the push transport without blocking.
type EventPublisher interface {
	Publish(conn Connection, event types.Event) error
}
