package types

import (
	"slices"
	"time"
)

// Role is the stored role of an authenticated user.
type Role string

const (
	RoleHuman     Role = "HUMAN"
	RoleBot       Role = "BOT"
	RoleAdmin     Role = "ADMIN"
	RoleEvaluator Role = "EVALUATOR"
)

// ParseRole returns the role named by s and whether it is known.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	switch r {
	case RoleHuman, RoleBot, RoleAdmin, RoleEvaluator:
		return r, true
	}
	return "", false
}

// NoopOrdinal is the caller convention for "do not append this message".
const NoopOrdinal = -1

// User is an identity already authenticated by the boundary layer.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// UserSession binds a user, role and token to a session id and display alias.
// ARCHITECTURAL DISCOVERY: value semantics; the registry hands out copies so
// callers can never mutate the registry's view of a session.
type UserSession struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Token     string    `json:"-"`
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	Alias     string    `json:"alias"`
}

// User returns the identity the session was bound for.
func (s UserSession) User() User {
	return User{ID: s.UserID, Username: s.Username, Role: s.Role}
}

// Message is one entry of a room transcript.
type Message struct {
	Ordinal    int       `json:"ordinal"`
	RoomID     string    `json:"room_id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Alias      string    `json:"alias"`
	Content    string    `json:"content" validate:"required,max=8192"`
	Recipients []string  `json:"recipients,omitempty" validate:"omitempty,max=32,dive,required"`
	Timestamp  time.Time `json:"timestamp"`
}

// Viewer identifies who is reading a transcript.
type Viewer struct {
	UserID   string
	Alias    string
	Elevated bool
}

// VisibleTo reports whether the viewer may see the message. Broadcasts are
// visible to everyone; restricted messages only to listed aliases and to
// elevated viewers.
func (m Message) VisibleTo(v Viewer) bool {
	if len(m.Recipients) == 0 || v.Elevated {
		return true
	}
	if v.Alias == "" {
		return false
	}
	return slices.Contains(m.Recipients, v.Alias)
}

// Reaction attaches a reaction type to a message ordinal.
type Reaction struct {
	RoomID         string    `json:"room_id"`
	MessageOrdinal int       `json:"message_ordinal" validate:"gte=0"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Type           string    `json:"type" validate:"required,max=64"`
	Timestamp      time.Time `json:"timestamp"`
}

// RoomInfo is an immutable snapshot of a room handed to listeners and clients.
type RoomInfo struct {
	ID           string            `json:"id"`
	Prompt       string            `json:"prompt"`
	Participants map[string]string `json:"participants"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Active       bool              `json:"active"`
	Logged       bool              `json:"logged"`
	MessageCount int               `json:"message_count"`
}

// SessionAuditRecord is appended to the durable log on every bind.
type SessionAuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
}

// Push event types.
const (
	EventTypeRoom     = "room"
	EventTypeMessage  = "message"
	EventTypeReaction = "reaction"
	EventTypeSystem   = "system"
)

// Event is the envelope written to push connections.
type Event struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
