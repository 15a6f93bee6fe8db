package chatroom

import (
	"fmt"

	"github.com/samber/lo"

	"parley/internal/logging"
	"parley/internal/metrics"
	"parley/pkg/interfaces"
)

// notification is one event bound for a fixed set of listeners.
type notification struct {
	listeners []interfaces.RoomListener
	deliver   func(interfaces.RoomListener)
}

type ticket struct {
	seq uint64
	n   notification
}

// ticketLocked reserves n's place in the room's delivery order. Caller holds
// r.mu, so tickets follow the order in which the room applied its events.
func (r *Room) ticketLocked(n notification) ticket {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	t := ticket{seq: r.issued, n: n}
	r.issued++
	return t
}

// deliver waits for earlier tickets of this room, then notifies t's listeners
// on the calling goroutine. The room lock must not be held: listeners may read
// the room, but must not mutate it.
func (r *Room) deliver(t ticket) {
	r.notifyMu.Lock()
	for r.served != t.seq {
		r.turn.Wait()
	}
	r.notifyMu.Unlock()

	defer func() {
		r.notifyMu.Lock()
		r.served++
		r.notifyMu.Unlock()
		r.turn.Broadcast()
	}()
	for _, l := range t.n.listeners {
		if l.IsActive() {
			safeNotify(l, t.n.deliver)
		}
	}
}

// activeListenersLocked prunes listeners that report inactive and returns a
// snapshot of the rest. Caller holds r.mu for writing.
func (r *Room) activeListenersLocked() []interfaces.RoomListener {
	r.listeners = lo.Filter(r.listeners, func(l interfaces.RoomListener, _ int) bool {
		return l.IsActive()
	})
	return append([]interfaces.RoomListener(nil), r.listeners...)
}

func safeNotify(l interfaces.RoomListener, deliver func(interfaces.RoomListener)) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ListenerPanics.Inc()
			logging.Error().
				Str("listener", fmt.Sprintf("%T", l)).
				Interface("panic", rec).
				Msg("room listener panicked")
		}
	}()
	deliver(l)
}
