package domain

import (
	"sync"
	"time"
)

// Session is the per-connection identity record. It is created unauthenticated
// when the socket is accepted and filled in by a successful authenticate.
type Session struct {
	ID            string
	UserID        string
	Username      string
	Email         string
	Roles         []string
	Status        Status
	CustomStatus  string
	Authenticated bool
	ConnectedAt   time.Time
	LastActiveAt  time.Time
	mu            sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Status:       StatusOnline,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}

func (s *Session) Authenticate(userID, username, email string, roles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserID = userID
	s.Username = username
	s.Email = email
	s.Roles = roles
	s.Authenticated = true
	s.LastActiveAt = time.Now()
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Authenticated
}

func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserID
}

func (s *Session) GetUsername() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Username
}

// SetStatus records the connection's chosen status.
func (s *Session) SetStatus(status Status, custom string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.CustomStatus = custom
}

// GetStatus returns the status and custom status text.
func (s *Session) GetStatus() (Status, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status, s.CustomStatus
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}

// LastActivity returns the time of the last inbound frame.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActiveAt
}
