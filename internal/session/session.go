// ABOUTME: Session type and the Provider interface consumed by chat clients.
// ABOUTME: A Static provider backs tests and token-from-env setups.

package session

import (
	"errors"
	"time"
)

// Session errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrExpired          = errors.New("session expired")
)

// Session is the authenticated identity every API call runs under.
type Session struct {
	UserID    string
	Username  string
	Token     string
	ExpiresAt time.Time // zero means no expiry claim
}

// Expired reports whether the session's token has an expiry in the past.
func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// Provider yields the current session. Implementations return
// ErrNotAuthenticated when no session exists and ErrExpired when the stored
// token is past its expiry.
type Provider interface {
	Current() (*Session, error)
}

// Static is a fixed-session Provider.
type Static struct {
	Session *Session
}

// Current returns the fixed session, enforcing the expiry check.
func (s *Static) Current() (*Session, error) {
	if s.Session == nil {
		return nil, ErrNotAuthenticated
	}
	if s.Session.Expired() {
		return nil, ErrExpired
	}
	return s.Session, nil
}
