package session

import "parley/pkg/types"

var (
	ErrSessionNotFound = types.NewError(types.KindUnauthenticated, "session not found or expired")
	ErrEmptyToken      = types.NewError(types.KindUnauthenticated, "session token is required")
)
