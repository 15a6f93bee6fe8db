package websocket

import (
	"sync"

	"github.com/samber/lo"

	"parley/internal/logging"
	"parley/internal/metrics"
	"parley/pkg/interfaces"
)

// Registry tracks open push connections by token and by user. A user may
// hold several, one per tab or device.
type Registry struct {
	mu      sync.RWMutex
	byToken map[string]map[interfaces.Connection]struct{}
	byUser  map[string]map[interfaces.Connection]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byToken: make(map[string]map[interfaces.Connection]struct{}),
		byUser:  make(map[string]map[interfaces.Connection]struct{}),
	}
}

// RegisterConnection indexes an authenticated connection.
func (r *Registry) RegisterConnection(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	addTo(r.byToken, conn.GetToken(), conn)
	addTo(r.byUser, conn.GetUserID(), conn)
	metrics.PushConnections.Set(float64(r.countLocked()))
	return nil
}

// UnregisterConnection removes conn. Unknown connections are ignored.
func (r *Registry) UnregisterConnection(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removeFrom(r.byToken, conn.GetToken(), conn)
	removeFrom(r.byUser, conn.GetUserID(), conn)
	metrics.PushConnections.Set(float64(r.countLocked()))
}

// UserConnections returns the open connections of userID.
func (r *Registry) UserConnections(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser[userID])
}

// CloseToken closes every connection opened with token.
func (r *Registry) CloseToken(token string) int {
	r.mu.RLock()
	conns := lo.Keys(r.byToken[token])
	r.mu.RUnlock()
	return closeAll(conns)
}

// CloseUser closes every connection of userID.
func (r *Registry) CloseUser(userID string) int {
	return closeAll(r.UserConnections(userID))
}

// Count is the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked()
}

func (r *Registry) countLocked() int {
	n := 0
	for _, set := range r.byToken {
		n += len(set)
	}
	return n
}

// closeAll closes without holding the registry lock; each connection's read
// loop unregisters itself on the way out.
func closeAll(conns []interfaces.Connection) int {
	for _, c := range conns {
		if err := c.Close(); err != nil {
			logging.Debug().Err(err).Str("user_id", c.GetUserID()).Msg("close connection")
		}
	}
	return len(conns)
}

func addTo(index map[string]map[interfaces.Connection]struct{}, key string, conn interfaces.Connection) {
	set, ok := index[key]
	if !ok {
		set = make(map[interfaces.Connection]struct{})
		index[key] = set
	}
	set[conn] = struct{}{}
}

func removeFrom(index map[string]map[interfaces.Connection]struct{}, key string, conn interfaces.Connection) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(index, key)
	}
}
