package identity

import "errors"

// Public, stable errors for callers.
var (
	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidUsername is returned for empty or malformed usernames.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrPasswordTooShort is returned when a password fails the length baseline.
	ErrPasswordTooShort = errors.New("password too short")

	// ErrInvalidHash is returned for malformed or unsupported stored hashes.
	ErrInvalidHash = errors.New("invalid argon2id hash format")
)
