// Package session tracks which tokens belong to which logical user sessions.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"parley/internal/alias"
	"parley/internal/logging"
	"parley/internal/metrics"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

const (
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = 10 * time.Second
)

// Registry implements interfaces.SessionRegistry.
// ARCHITECTURAL DISCOVERY: three maps kept in sync under one RWMutex.
// tokenToSession is the source of truth; inserts land there first and
// removals leave it first, so a reader consulting only the primary map never
// sees a half-registered token.
type Registry struct {
	mu                sync.RWMutex
	tokenToSession    map[string]*types.UserSession
	userToSessions    map[string][]*types.UserSession
	tokenToLastAccess map[string]time.Time

	audit         interfaces.DurableLog
	aliases       alias.Generator
	now           func() time.Time
	idleTimeout   time.Duration
	sweepInterval time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects the time source used for last access and eviction.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

func WithAliasGenerator(g alias.Generator) Option {
	return func(r *Registry) { r.aliases = g }
}

// NewRegistry creates an empty registry. audit may be nil.
func NewRegistry(audit interfaces.DurableLog, opts ...Option) *Registry {
	r := &Registry{
		tokenToSession:    make(map[string]*types.UserSession),
		userToSessions:    make(map[string][]*types.UserSession),
		tokenToLastAccess: make(map[string]time.Time),
		audit:             audit,
		aliases:           alias.NewRandom(),
		now:               time.Now,
		idleTimeout:       DefaultIdleTimeout,
		sweepInterval:     DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the session bound to token and touches its last access.
// An unknown token is reported as ErrSessionNotFound (unauthenticated), and so
// is a token idle past the timeout that the sweeper has not reached yet; that
// token is evicted here.
func (r *Registry) Resolve(token string) (types.UserSession, error) {
	if token == "" {
		return types.UserSession{}, ErrEmptyToken
	}

	r.mu.Lock()
	s, ok := r.tokenToSession[token]
	if !ok {
		r.mu.Unlock()
		return types.UserSession{}, ErrSessionNotFound
	}
	now := r.now()
	if r.tokenToLastAccess[token].Before(now.Add(-r.idleTimeout)) {
		r.clearLocked(token)
		count := len(r.tokenToSession)
		r.mu.Unlock()

		metrics.SessionsEvicted.Inc()
		metrics.SessionsActive.Set(float64(count))
		logging.Debug().Str("user_id", s.UserID).Str("session_id", s.SessionID).Msg("idle session evicted on resolve")
		return types.UserSession{}, ErrSessionNotFound
	}
	r.tokenToLastAccess[token] = now
	out := *s
	r.mu.Unlock()
	return out, nil
}

// Bind creates the session for token or returns the existing one when the
// stored role matches. A BOT binding clears every other session of that bot.
func (r *Registry) Bind(token string, user types.User) types.UserSession {
	r.mu.Lock()

	now := r.now()
	if s, ok := r.tokenToSession[token]; ok && s.Role == user.Role && s.UserID == user.ID {
		r.tokenToLastAccess[token] = now
		out := *s
		r.mu.Unlock()
		metrics.SessionBinds.WithLabelValues("reused").Inc()
		return out
	}

	outcome := "fresh"
	var sessionID, displayAlias string
	sharing := lo.Filter(r.userToSessions[user.ID], func(s *types.UserSession, _ int) bool {
		return s.Token == token
	})
	if len(sharing) == 1 {
		sessionID = sharing[0].SessionID
		displayAlias = sharing[0].Alias
		outcome = "role_flip"
	}

	if user.Role == types.RoleBot {
		cleared := r.forceClearLocked(user.ID)
		if cleared > 0 {
			logging.Info().Str("user_id", user.ID).Int("cleared", cleared).Msg("bot re-login cleared prior sessions")
		}
	}

	// Any previous holder of the token (other user or other role) goes first.
	r.clearLocked(token)

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if displayAlias == "" {
		displayAlias = r.aliases.Next()
	}

	s := &types.UserSession{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		Token:     token,
		SessionID: sessionID,
		StartTime: now,
		Alias:     displayAlias,
	}
	r.tokenToSession[token] = s
	r.userToSessions[user.ID] = append(r.userToSessions[user.ID], s)
	r.tokenToLastAccess[token] = now
	count := len(r.tokenToSession)
	out := *s
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	metrics.SessionBinds.WithLabelValues(outcome).Inc()
	logging.Debug().Str("user_id", user.ID).Str("session_id", sessionID).Str("role", string(user.Role)).
		Str("outcome", outcome).Msg("session bound")

	if r.audit != nil {
		r.audit.AppendSessionAudit(types.SessionAuditRecord{
			Timestamp: now,
			SessionID: sessionID,
			Token:     token,
			UserID:    user.ID,
			Username:  user.Username,
		})
	}
	return out
}

// Clear removes token from all three maps.
func (r *Registry) Clear(token string) bool {
	r.mu.Lock()
	existed := r.clearLocked(token)
	count := len(r.tokenToSession)
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	return existed
}

// ForceClear removes every session owned by userID.
func (r *Registry) ForceClear(userID string) int {
	r.mu.Lock()
	n := r.forceClearLocked(userID)
	count := len(r.tokenToSession)
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	return n
}

// SessionsOf returns copies of the user's live sessions.
func (r *Registry) SessionsOf(userID string) []types.UserSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.userToSessions[userID], func(s *types.UserSession, _ int) types.UserSession {
		return *s
	})
}

// RolesOf returns the permission tags satisfied by the token's session.
// It does not extend the session's life.
func (r *Registry) RolesOf(token string) types.PermissionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.tokenToSession[token]
	if !ok {
		return types.PermissionsFor("")
	}
	return types.PermissionsFor(s.Role)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokenToSession)
}

// clearLocked is the single removal path shared by logout, forced clear,
// re-binding and idle eviction. Caller holds r.mu.
func (r *Registry) clearLocked(token string) bool {
	s, ok := r.tokenToSession[token]
	if !ok {
		delete(r.tokenToLastAccess, token)
		return false
	}
	delete(r.tokenToSession, token)

	remaining := lo.Reject(r.userToSessions[s.UserID], func(other *types.UserSession, _ int) bool {
		return other == s
	})
	if len(remaining) == 0 {
		delete(r.userToSessions, s.UserID)
	} else {
		r.userToSessions[s.UserID] = remaining
	}
	delete(r.tokenToLastAccess, token)
	return true
}

func (r *Registry) forceClearLocked(userID string) int {
	tokens := lo.Map(r.userToSessions[userID], func(s *types.UserSession, _ int) string {
		return s.Token
	})
	n := 0
	for _, token := range tokens {
		if r.clearLocked(token) {
			n++
		}
	}
	return n
}
