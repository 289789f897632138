package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"clinix/internal/domain/user"
)

var (
	ErrTokenRequired   = errors.New("auth: token required")
	ErrUserRequired    = errors.New("auth: user id required")
	ErrTTLInvalid      = errors.New("auth: session ttl must be positive")
	ErrSessionNotFound = errors.New("auth: session not found")
)

// Token is an opaque bearer credential. Its value is meaningful only to the
// SessionStore it was saved in.
type Token string

// Session binds a token to a user and a role snapshot for the lifetime of a
// login. The role is copied at login time; blocking or demoting a user takes
// effect the next time their token is resolved.
type Session struct {
	Token     Token
	UserID    user.ID
	Role      user.Role
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at the given time.
// A zero time means "now".
func (s *Session) Expired(at time.Time) bool {
	if at.IsZero() {
		at = time.Now()
	}
	return !s.ExpiresAt.After(at.UTC())
}

// TTL returns how long the session remains valid from the given time, or zero
// if it has already expired.
func (s *Session) TTL(at time.Time) time.Duration {
	if at.IsZero() {
		at = time.Now()
	}
	d := s.ExpiresAt.Sub(at.UTC())
	if d < 0 {
		return 0
	}
	return d
}

type CreateSessionParams struct {
	Token  Token
	UserID user.ID
	Role   user.Role
	TTL    time.Duration
	Now    time.Time
}

func NewSession(params CreateSessionParams) (*Session, error) {
	token := Token(strings.TrimSpace(string(params.Token)))
	switch {
	case token == "":
		return nil, ErrTokenRequired
	case strings.TrimSpace(string(params.UserID)) == "":
		return nil, ErrUserRequired
	case params.TTL <= 0:
		return nil, ErrTTLInvalid
	}
	issued := params.Now
	if issued.IsZero() {
		issued = time.Now()
	}
	issued = issued.UTC()
	return &Session{
		Token:     token,
		UserID:    params.UserID,
		Role:      params.Role,
		CreatedAt: issued,
		ExpiresAt: issued.Add(params.TTL),
	}, nil
}

// SessionStore persists sessions keyed by token. Get must return
// ErrSessionNotFound for unknown or expired tokens.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Get(ctx context.Context, token Token) (*Session, error)
	Delete(ctx context.Context, token Token) error
	DeleteByUser(ctx context.Context, userID user.ID) error
}
