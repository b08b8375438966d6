package model

import "errors"

// Common errors used across the application
var (
	// Identity errors
	ErrUserNotFound       = errors.New("user not found")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("invalid username")

	// Room errors
	ErrRoomNotFound          = errors.New("room not found")
	ErrAlreadyInRoom         = errors.New("user is already in room")
	ErrNotInRoom             = errors.New("user is not in room")
	ErrNotHost               = errors.New("user is not the host")
	ErrInvalidTransition     = errors.New("invalid room status transition")
	ErrRoomNotAcceptingUsers = errors.New("room is not accepting new players")

	// Chat errors
	ErrEmptyMessage = errors.New("message is empty")
)
