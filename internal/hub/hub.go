// Package hub delivers room events to push connections off the room's
// notification path.
package hub

import (
	"context"
	"sync"

	"parley/internal/logging"
	"parley/internal/metrics"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

const DefaultBuffer = 1000

var _ interfaces.EventPublisher = (*Hub)(nil)

type delivery struct {
	conn  interfaces.Connection
	event types.Event
}

// Hub owns the single goroutine that writes events to connections.
// ARCHITECTURAL DISCOVERY: room listeners run under the room's delivery
// queue, so they only enqueue here. A slow or dead socket costs one dropped
// event instead of stalling every participant of the room.
type Hub struct {
	events chan delivery

	running bool
	mu      sync.Mutex
}

// NewHub creates a hub with room for buffer pending events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{events: make(chan delivery, buffer)}
}

// Publish queues event for conn without blocking.
func (h *Hub) Publish(conn interfaces.Connection, event types.Event) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.IsClosed() {
		metrics.PushEvents.WithLabelValues("dropped").Inc()
		return ErrConnectionClosed
	}
	select {
	case h.events <- delivery{conn: conn, event: event}:
		return nil
	default:
		metrics.PushEvents.WithLabelValues("dropped").Inc()
		logging.Warn().Str("user_id", conn.GetUserID()).Str("type", event.Type).Msg("push event dropped, hub full")
		return ErrEventChannelFull
	}
}

// Serve writes queued events until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	logging.Debug().Msg("push hub started")
	for {
		select {
		case d := <-h.events:
			h.deliver(d)
		case <-ctx.Done():
			logging.Debug().Int("pending", len(h.events)).Msg("push hub stopped")
			return ctx.Err()
		}
	}
}

func (h *Hub) String() string { return "push-hub" }

func (h *Hub) deliver(d delivery) {
	if d.conn.IsClosed() {
		metrics.PushEvents.WithLabelValues("dropped").Inc()
		return
	}
	if err := d.conn.WriteJSON(d.event); err != nil {
		metrics.PushEvents.WithLabelValues("failed").Inc()
		logging.Debug().Err(err).Str("user_id", d.conn.GetUserID()).Str("type", d.event.Type).Msg("push write failed")
		return
	}
	metrics.PushEvents.WithLabelValues("sent").Inc()
}
