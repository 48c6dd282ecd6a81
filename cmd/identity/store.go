package identity

import "context"

// Store persists user credentials.
//
// Authenticate reports (false, nil) for unknown users and wrong passwords
// alike; errors are reserved for infrastructure failures.
type Store interface {
	Register(ctx context.Context, username, password string) error
	Authenticate(ctx context.Context, username, password string) (bool, error)
	Close() error
}

func validUsername(username string) bool {
	if username == "" || len(username) > 64 {
		return false
	}
	for _, r := range username {
		// Spaces and control characters would leak into presence lists and logs.
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
