package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrEventChannelFull  = errors.New("event channel is full")
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrNilConnection     = errors.New("nil connection")
)
