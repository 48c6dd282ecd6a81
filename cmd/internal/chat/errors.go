package chat

import "errors"

// Public, stable errors for callers.
var (
	// ErrRoomExists is returned when creating a room whose id is already taken.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound is returned when a room id resolves to nothing.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalidRoomID is returned for room ids that are empty or unsafe as file keys.
	ErrInvalidRoomID = errors.New("invalid room id")
)
