// Package auth validates session tokens issued to site owners.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtpkg "github.com/splax/sitedeploy/pkg/jwt"
)

// ErrInvalidToken indicates a missing, malformed, expired or foreign token.
var ErrInvalidToken = errors.New("auth: invalid token")

// Principal identifies the caller of an authenticated request.
type Principal struct {
	UserID string
}

// Service validates bearer tokens.
type Service struct {
	secret string
}

// New constructs a Service verifying tokens signed with secret.
func New(secret string) Service {
	return Service{secret: secret}
}

// Authorize parses token and returns the caller it was issued to.
func (s Service) Authorize(_ context.Context, token string) (Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Principal{}, ErrInvalidToken
	}
	claims, err := jwtpkg.Parse(trimmed, s.secret)
	if err != nil {
		return Principal{}, errors.Join(ErrInvalidToken, err)
	}
	return Principal{UserID: claims.UserID()}, nil
}

// IssueToken signs a token for userID. Used by operator tooling and tests.
func (s Service) IssueToken(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return jwtpkg.GenerateToken(userID, s.secret, ttl)
}
