package domain

import (
	"sync"
	"time"
)

// Session is the authentication and routing state of one WebSocket client.
type Session struct {
	ID            string
	UserID        string
	ProfileID     string
	Authenticated bool
	MatchID       string
	CreatedAt     time.Time
	LastActiveAt  time.Time
	mu            sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

func (s *Session) Authenticate(userID, profileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserID = userID
	s.ProfileID = profileID
	s.Authenticated = true
	s.LastActiveAt = time.Now()
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Authenticated
}

func (s *Session) OpenMatch(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MatchID = matchID
	s.LastActiveAt = time.Now()
}

func (s *Session) CloseMatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MatchID = ""
	s.LastActiveAt = time.Now()
}

func (s *Session) GetMatchID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MatchID
}

func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserID
}

func (s *Session) GetProfileID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ProfileID
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
