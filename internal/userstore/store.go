// Package userstore persists user credentials in a JSON file. Passwords are
// stored in plain text for parity with the existing client fleet; replace
// with hashed storage before exposing this beyond a trusted network.
package userstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/verdant-io/verdant/internal/protocol"
)

// Sentinel errors surfaced to the session layer.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrForbidden    = errors.New("admin role required")
)

// Roles with special meaning. Other role strings are stored as-is.
const (
	RoleAdmin  = "Admin"
	RoleViewer = "Viewer"
)

// User is one store entry as persisted on disk.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Store is a file-backed user registry. All mutations rewrite the whole
// file immediately; a persistence failure is logged and the in-memory
// change stands.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	users []User
}

// New opens (or creates) the store at path. A missing file is seeded with
// the default admin and viewer accounts; an unreadable or malformed file
// logs a warning and starts empty rather than failing.
func New(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger.With("component", "userstore"),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.users = seedUsers()
		s.persistLocked()
		return s
	}
	if err != nil {
		s.logger.Warn("could not read user store, starting empty", "path", path, "error", err)
		return s
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		s.logger.Warn("malformed user store, starting empty", "path", path, "error", err)
		s.users = nil
	}
	return s
}

func seedUsers() []User {
	return []User{
		{ID: 1, Username: "admin", Password: "admin123", Role: RoleAdmin},
		{ID: 2, Username: "user", Password: "user123", Role: RoleViewer},
	}
}

// Validate checks a username/password pair.
func (s *Store) Validate(username, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username && u.Password == password {
			return true
		}
	}
	return false
}

// Register appends a new user and persists. Ids are allocated as
// max(existing)+1. An empty role defaults to Admin. Duplicate usernames are
// not rejected here; the control panels validate before registering.
func (s *Store) Register(username, password, role string) int {
	if role == "" {
		role = RoleAdmin
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := 0
	for _, u := range s.users {
		if u.ID > id {
			id = u.ID
		}
	}
	id++

	s.users = append(s.users, User{ID: id, Username: username, Password: password, Role: role})
	s.persistLocked()
	return id
}

// GetAll returns all users without passwords.
func (s *Store) GetAll() []protocol.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.UserInfo, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, protocol.UserInfo{ID: u.ID, Username: u.Username, Role: u.Role})
	}
	return out
}

// Update renames a user and/or changes its role. Only admins may call it;
// the gate is case-insensitive on the actor's role.
func (s *Store) Update(userID int, newUsername, newRole, actorRole string) error {
	if !isAdmin(actorRole) {
		return ErrForbidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.users {
		if s.users[i].ID == userID {
			if newUsername != "" {
				s.users[i].Username = newUsername
			}
			if newRole != "" {
				s.users[i].Role = newRole
			}
			s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
}

// Delete removes a user. Admin-gated like Update.
func (s *Store) Delete(userID int, actorRole string) error {
	if !isAdmin(actorRole) {
		return ErrForbidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.users {
		if s.users[i].ID == userID {
			s.users = append(s.users[:i], s.users[i+1:]...)
			s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
}

// UserID looks up a user's id by username.
func (s *Store) UserID(username string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u.ID, true
		}
	}
	return 0, false
}

// UserRole looks up a user's role by username.
func (s *Store) UserRole(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u.Role, true
		}
	}
	return "", false
}

func isAdmin(role string) bool {
	return strings.EqualFold(role, RoleAdmin)
}

// persistLocked rewrites the backing file. Callers hold s.mu.
func (s *Store) persistLocked() {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		s.logger.Error("encode user store", "error", err)
		return
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		s.logger.Error("persist user store, in-memory state stands", "path", s.path, "error", err)
	}
}
