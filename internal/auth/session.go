// Package auth holds the current user's capability set: whether someone is
// signed in, which roles they hold, and the bearer token for the backend.
package auth

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrEmptyToken = errors.New("empty token")

type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

type Session struct {
	mu      sync.RWMutex
	token   string
	user    User
	since   time.Time
	changed chan struct{}
	now     func() time.Time
}

func NewSession() *Session {
	return &Session{changed: make(chan struct{}), now: time.Now}
}

// Login replaces the current user. Roles are compared case-insensitively.
func (s *Session) Login(token string, user User) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	roles := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	user.Roles = roles

	s.mu.Lock()
	s.token = token
	s.user = user
	s.since = s.now().UTC()
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.user = User{}
	s.since = time.Time{}
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

func (s *Session) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.user.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.user
	u.Roles = append([]string(nil), s.user.Roles...)
	return u
}

// Since returns when the current user signed in, zero when signed out.
func (s *Session) Since() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.since
}

// Changed returns a channel closed at the next Login or Logout.
func (s *Session) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
