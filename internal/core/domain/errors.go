package domain

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomEnded        = errors.New("room has ended")
	ErrRoomFull         = errors.New("room is full")
	ErrInvalidPassword  = errors.New("invalid room password")
	ErrAlreadyJoined    = errors.New("user already joined")
	ErrNotAParticipant  = errors.New("user is not a participant")
	ErrNotCreator       = errors.New("only the creator may delete the room")
	ErrNotInRoom        = errors.New("sender is not in the room")
	ErrLockTimeout      = errors.New("timed out waiting for room lock")
	ErrInvalidRole      = errors.New("invalid participant role")
	ErrInvalidState     = errors.New("invalid connection state")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrNotAuthenticated = errors.New("connection not authenticated")
)
