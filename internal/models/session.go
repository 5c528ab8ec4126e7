package models

import "time"

// Session is an authenticated browser session.
type Session struct {
	Token             string    `json:"token" db:"token"`
	UserID            int64     `json:"user_id" db:"user_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	LastActiveAt      time.Time `json:"last_active_at" db:"last_active_at"`
	AbsoluteExpiresAt time.Time `json:"absolute_expires_at" db:"absolute_expires_at"`
}

// ValidAt applies the dual timeout rule.
func (s *Session) ValidAt(now time.Time, idle time.Duration) bool {
	return now.Before(s.AbsoluteExpiresAt) && now.Sub(s.LastActiveAt) < idle
}

// ExpiresAt is the instant the session dies if no further activity happens.
func (s *Session) ExpiresAt(idle time.Duration) time.Time {
	idleAt := s.LastActiveAt.Add(idle)
	if idleAt.Before(s.AbsoluteExpiresAt) {
		return idleAt
	}
	return s.AbsoluteExpiresAt
}

type SessionResponse struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
