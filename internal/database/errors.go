package database

import (
	"errors"

	"parley/pkg/types"
)

var (
	ErrUserNotFound   = types.NewError(types.KindNotFound, "user not found")
	ErrUserExists     = types.NewError(types.KindInvalidState, "username already exists")
	ErrManagerClosed  = errors.New("database manager is closed")
	ErrWriteQueueFull = errors.New("database write queue full")
)
