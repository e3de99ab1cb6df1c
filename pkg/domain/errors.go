package domain

import (
	"errors"
)

// Common domain errors
var (
	// ErrUserNotFound is returned when a username cannot be resolved
	ErrUserNotFound = errors.New("user not found")

	// ErrRoomNotFound is returned when a room does not exist
	ErrRoomNotFound = errors.New("room not found")

	// ErrUnauthenticated is returned when a connection carries no valid session
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrConnectionClosed is returned when trying to use a closed connection
	ErrConnectionClosed = errors.New("connection closed")
)
