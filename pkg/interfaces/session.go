package interfaces

import "parley/pkg/types"

// SessionRegistry maps opaque tokens to user sessions.
type SessionRegistry interface {
	// Resolve returns the session for token and extends its life.
	Resolve(token string) (types.UserSession, error)

	// Bind creates or reuses the session for token. It never fails.
	Bind(token string, user types.User) types.UserSession

	// Clear removes the session for token and reports whether it existed.
	Clear(token string) bool

	// ForceClear removes every session of the user and returns how many.
	ForceClear(userID string) int

	SessionsOf(userID string) []types.UserSession
	RolesOf(token string) types.PermissionSet
}
