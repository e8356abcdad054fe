// ABOUTME: Builds a Session from a bearer JWT by reading its claims.
// ABOUTME: Client-side parse only; signature verification is the server's job.

package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingClaim = errors.New("missing required claim")
)

// FromToken extracts the user identity from a bearer JWT without verifying
// the signature. The client only needs the claims; the server verifies the
// token on every request.
func FromToken(token string) (*Session, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	s := &Session{
		UserID: sub,
		Token:  token,
	}

	if name, ok := claims["name"].(string); ok {
		s.Username = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}

	return s, nil
}
