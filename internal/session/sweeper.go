package session

import (
	"context"
	"time"

	"parley/internal/logging"
	"parley/internal/metrics"
)

// Serve runs the idle sweeper until ctx is cancelled. It satisfies
// suture.Service so the sweeper's lifetime is owned by the supervisor tree.
func (r *Registry) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	logging.Info().Dur("interval", r.sweepInterval).Dur("idle_timeout", r.idleTimeout).Msg("session sweeper started")
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			logging.Info().Msg("session sweeper stopped")
			return ctx.Err()
		}
	}
}

// String names the service in supervisor events.
func (r *Registry) String() string { return "session-sweeper" }

// Sweep evicts every session idle for longer than the idle timeout and
// returns how many were evicted.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	cutoff := r.now().Add(-r.idleTimeout)
	var idle []string
	for token, last := range r.tokenToLastAccess {
		if last.Before(cutoff) {
			idle = append(idle, token)
		}
	}
	r.mu.RUnlock()

	evicted := 0
	for _, token := range idle {
		if r.evictIfIdle(token) {
			evicted++
		}
	}
	if evicted > 0 {
		metrics.SessionsEvicted.Add(float64(evicted))
		metrics.SessionsActive.Set(float64(r.Count()))
		logging.Info().Int("evicted", evicted).Msg("idle sessions evicted")
	}
	return evicted
}

// evictIfIdle re-checks last access under the write lock, since a Resolve
// may have landed between the scan and the eviction.
func (r *Registry) evictIfIdle(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.tokenToLastAccess[token]
	if !ok || !last.Before(r.now().Add(-r.idleTimeout)) {
		return false
	}
	return r.clearLocked(token)
}
