package chatroom

import "parley/pkg/types"

var (
	ErrRoomNotFound       = types.NewError(types.KindNotFound, "room not found")
	ErrRoomNotActive      = types.NewError(types.KindInvalidState, "room not active")
	ErrRoomClosed         = types.NewError(types.KindInvalidState, "room is closed")
	ErrSessionNotInRoom   = types.NewError(types.KindUnauthorized, "session not in room")
	ErrOrdinalOutOfBounds = types.NewError(types.KindValidation, "ordinal out of bounds")
	ErrNoParticipants     = types.NewError(types.KindValidation, "room needs at least one participant")
	ErrAlreadyAssessed    = types.NewError(types.KindValidation, "room already assessed by user")
	ErrInvalidDuration    = types.NewError(types.KindValidation, "round duration must be positive")
)
