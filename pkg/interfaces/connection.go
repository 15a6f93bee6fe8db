package interfaces

import "parley/pkg/types"

// Connection represents a push connection to one client.
// ARCHITECTURAL DISCOVERY: the hub and listeners only see this interface, so
// tests drive delivery with in-memory fakes instead of real sockets.
type Connection interface {
	// WriteJSON queues v for the client. Implementations serialise writes.
	WriteJSON(v any) error

	// Close closes the connection; safe to call more than once.
	Close() error

	// IsClosed reports whether Close has been called or the peer went away.
	IsClosed() bool

	GetUserID() string
	GetRole() types.Role
	GetSessionID() string
	GetToken() string
	IsAuthenticated() bool

	// SetCredentials attaches the resolved session after the upgrade.
	SetCredentials(session types.UserSession) error
}
