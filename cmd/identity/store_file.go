package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// userRecord is the on-disk credential entry.
type userRecord struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// FileStore keeps credentials in a single JSON file (username -> record).
// It is the default store when no database is configured.
type FileStore struct {
	path   string
	params Argon2idParams
	log    *slog.Logger

	mu    sync.Mutex
	users map[string]userRecord
}

// NewFileStore loads the credential file at path. An unreadable file is
// treated as an empty user set: login failures are recoverable, losing the
// process at startup is not.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	st := &FileStore{
		path:   path,
		params: DefaultArgon2idParams(),
		log:    logger,
		users:  make(map[string]userRecord),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("identity.file.unreadable", "path", path, "err", err)
		}
		return st
	}
	if err := json.Unmarshal(raw, &st.users); err != nil {
		logger.Warn("identity.file.corrupt", "path", path, "err", err)
		st.users = make(map[string]userRecord)
	}
	return st
}

// Register creates a user and persists the updated file.
func (s *FileStore) Register(_ context.Context, username, password string) error {
	if !validUsername(username) {
		return ErrInvalidUsername
	}

	hash, err := HashPassword(password, s.params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}
	s.users[username] = userRecord{Username: username, PasswordHash: hash}

	if err := s.saveLocked(); err != nil {
		delete(s.users, username)
		return err
	}
	return nil
}

// Authenticate verifies a username/password pair.
func (s *FileStore) Authenticate(_ context.Context, username, password string) (bool, error) {
	s.mu.Lock()
	rec, ok := s.users[username]
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	match, err := VerifyPassword(password, rec.PasswordHash)
	if err != nil {
		// A corrupt individual hash means this user cannot log in; it is not
		// an infrastructure failure.
		s.log.Warn("identity.file.bad_hash", "username", username, "err", err)
		return false, nil
	}
	return match, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) saveLocked() error {
	raw, err := json.MarshalIndent(s.users, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", s.path, err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
