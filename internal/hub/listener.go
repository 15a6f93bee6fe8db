package hub

import (
	"time"

	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// MessageLookup finds the message a reaction targets.
type MessageLookup interface {
	Message(roomID string, ordinal int) (types.Message, bool)
}

// Listener turns room notifications into push events for one connection.
// It stays active until the connection closes.
type Listener struct {
	conn      interfaces.Connection
	publisher interfaces.EventPublisher
	messages  MessageLookup
	elevated  bool
	now       func() time.Time
}

var _ interfaces.RoomListener = (*Listener)(nil)

// NewListener builds a listener for conn. Admin connections see restricted
// messages they are not addressed in. Reactions carry the visibility of the
// message they target, which is found through messages.
func NewListener(conn interfaces.Connection, publisher interfaces.EventPublisher, messages MessageLookup) *Listener {
	return &Listener{
		conn:      conn,
		publisher: publisher,
		messages:  messages,
		elevated:  types.PermissionsFor(conn.GetRole()).Has(types.PermAdmin),
		now:       time.Now,
	}
}

func (l *Listener) OnNewRoom(room types.RoomInfo) {
	l.publish(types.EventTypeRoom, room.ID, room)
}

func (l *Listener) OnMessage(msg types.Message, room types.RoomInfo) {
	if !msg.VisibleTo(l.viewer(room)) {
		return
	}
	l.publish(types.EventTypeMessage, room.ID, msg)
}

func (l *Listener) OnReaction(reaction types.Reaction, room types.RoomInfo) {
	target, ok := l.messages.Message(room.ID, reaction.MessageOrdinal)
	if !ok || !target.VisibleTo(l.viewer(room)) {
		return
	}
	l.publish(types.EventTypeReaction, room.ID, reaction)
}

func (l *Listener) viewer(room types.RoomInfo) types.Viewer {
	return types.Viewer{
		UserID:   l.conn.GetUserID(),
		Alias:    room.Participants[l.conn.GetUserID()],
		Elevated: l.elevated,
	}
}

func (l *Listener) IsActive() bool {
	return !l.conn.IsClosed()
}

func (l *Listener) publish(eventType, roomID string, data any) {
	// Publish only fails for closed or saturated connections, both of which
	// the hub already counts.
	_ = l.publisher.Publish(l.conn, types.Event{
		Type:      eventType,
		RoomID:    roomID,
		Data:      data,
		Timestamp: l.now(),
	})
}
