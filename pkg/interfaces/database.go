package interfaces

import (
	"context"

	"parley/pkg/types"
)

// DurableLog mirrors core mutations to durable storage.
// ARCHITECTURAL DISCOVERY: every append is fire-and-forget. A failing log
// never fails the bind, message or reaction that produced the record; the
// implementation logs and counts the failure instead.
type DurableLog interface {
	AppendSessionAudit(rec types.SessionAuditRecord)
	AppendRoom(room types.RoomInfo)
	AppendMessage(msg types.Message)
	AppendReaction(reaction types.Reaction)
}

// TranscriptReader reads back what a DurableLog recorded.
type TranscriptReader interface {
	Transcript(ctx context.Context, roomID string) ([]types.Message, error)
	ReactionHistory(ctx context.Context, roomID string) ([]types.Reaction, error)
	SessionAudit(ctx context.Context, userID string) ([]types.SessionAuditRecord, error)
}

// Journal is a durable log that can be read back and closed.
type Journal interface {
	DurableLog
	TranscriptReader
	HealthCheck(ctx context.Context) error
	Close() error
}

// StoredUser is a user record with its password hash.
type StoredUser struct {
	types.User
	PasswordHash string
}

// UserStore persists accounts for the authentication boundary.
type UserStore interface {
	CreateUser(ctx context.Context, user StoredUser) error
	GetUserByUsername(ctx context.Context, username string) (StoredUser, error)
	GetUser(ctx context.Context, userID string) (StoredUser, error)
	DeleteUser(ctx context.Context, userID string) error
}
