package adapter

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("auth token has expired, sign in again")

// TokenSource hands out the bearer token stored after sign-in. The token is
// never verified here; an expired JWT is refused before it reaches the wire.
type TokenSource struct {
	token string
	now   func() time.Time
}

func NewTokenSource(token string) *TokenSource {
	return &TokenSource{token: token, now: time.Now}
}

// Token returns "" when no token is configured. Opaque (non-JWT) tokens pass through.
func (s *TokenSource) Token() (string, error) {
	if s == nil || s.token == "" {
		return "", nil
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, &claims); err != nil {
		return s.token, nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(s.now()) {
		return "", ErrTokenExpired
	}
	return s.token, nil
}
