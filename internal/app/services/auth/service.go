package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	domainauth "clinix/internal/domain/auth"
	domainchat "clinix/internal/domain/chat"
	domainuser "clinix/internal/domain/user"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrPasswordTooShort   = errors.New("auth: password must be at least 8 characters")
	ErrUserBlocked        = errors.New("auth: user blocked")
	errNotConfigured      = errors.New("auth: service missing dependencies")
)

const (
	minPasswordRunes  = 8
	defaultSessionTTL = 24 * time.Hour
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type TokenGenerator interface {
	NewToken() (string, error)
}

// ProfileWriter projects a user into the chat directory. Every account gets
// a chat profile so the staff roster stays complete.
type ProfileWriter interface {
	SaveProfile(ctx context.Context, profile *domainchat.Profile) error
}

type Service struct {
	Users      domainuser.Repository
	Sessions   domainauth.SessionStore
	Profiles   ProfileWriter
	Passwords  PasswordHasher
	Tokens     TokenGenerator
	SessionTTL time.Duration
	Logger     *slog.Logger
}

type LoginParams struct {
	Email    string
	Password string
}

// CreateUserParams is the admin-facing account creation input.
type CreateUserParams struct {
	Email     string
	Name      string
	Password  string
	Role      domainuser.Role
	BranchIDs []string
}

type AuthResult struct {
	User  *domainuser.User
	Token string
}

type ResolveResult struct {
	User    *domainuser.User
	Session *domainauth.Session
}

// CreateUser registers a clinic account. Only admins reach this path; the
// handler enforces that. A duplicate email surfaces as
// user.ErrEmailAlreadyUsed.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (*domainuser.User, error) {
	if !s.configured() {
		return nil, errNotConfigured
	}
	if utf8.RuneCountInString(params.Password) < minPasswordRunes {
		return nil, ErrPasswordTooShort
	}
	hash, err := s.Passwords.Hash(params.Password)
	if err != nil {
		return nil, err
	}
	account, err := domainuser.New(domainuser.CreateParams{
		ID:           domainuser.ID(uuid.NewString()),
		Email:        params.Email,
		Name:         params.Name,
		PasswordHash: hash,
		Role:         params.Role,
		BranchIDs:    params.BranchIDs,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if taken, err := s.Users.ByEmail(ctx, account.Email); err == nil && taken != nil {
		return nil, domainuser.ErrEmailAlreadyUsed
	}
	if err := s.Users.Save(ctx, account); err != nil {
		return nil, err
	}
	if s.Profiles != nil {
		profile := &domainchat.Profile{
			ID:        account.ID,
			Name:      account.Name,
			AvatarURL: account.AvatarURL,
			Role:      string(account.Role),
			BranchIDs: append([]string(nil), account.BranchIDs...),
		}
		if err := s.Profiles.SaveProfile(ctx, profile); err != nil {
			return nil, err
		}
	}
	s.log("user created", "user_id", account.ID, "email", account.Email, "role", account.Role)
	return account, nil
}

func (s *Service) Login(ctx context.Context, params LoginParams) (*AuthResult, error) {
	if !s.configured() {
		return nil, errNotConfigured
	}
	account, err := s.Users.ByEmail(ctx, strings.ToLower(strings.TrimSpace(params.Email)))
	switch {
	case errors.Is(err, domainuser.ErrNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	case account.Blocked:
		return nil, ErrUserBlocked
	}
	if s.Passwords.Compare(account.PasswordHash, params.Password) != nil {
		return nil, ErrInvalidCredentials
	}
	token, err := s.Tokens.NewToken()
	if err != nil {
		return nil, err
	}
	ttl := s.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	session, err := domainauth.NewSession(domainauth.CreateSessionParams{
		Token:  domainauth.Token(token),
		UserID: account.ID,
		Role:   account.Role,
		TTL:    ttl,
		Now:    time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	s.log("user authenticated", "user_id", account.ID)
	return &AuthResult{User: account, Token: token}, nil
}

// Logout drops the session. Unknown and empty tokens are not errors; the
// caller ends up signed out either way.
func (s *Service) Logout(ctx context.Context, token string) error {
	if !s.configured() {
		return errNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := s.Sessions.Delete(ctx, domainauth.Token(token)); err != nil {
		return err
	}
	s.log("session terminated")
	return nil
}

// ResolveToken maps a bearer token to its account. Blocking a user is
// enforced here: the first resolve after the block drops every session the
// user still holds.
func (s *Service) ResolveToken(ctx context.Context, token string) (*ResolveResult, error) {
	if !s.configured() {
		return nil, errNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domainauth.ErrTokenRequired
	}
	session, err := s.Sessions.Get(ctx, domainauth.Token(token))
	if err != nil {
		return nil, err
	}
	account, err := s.Users.ByID(ctx, session.UserID)
	if errors.Is(err, domainuser.ErrNotFound) {
		_ = s.Sessions.Delete(ctx, session.Token)
		return nil, domainauth.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if account.Blocked {
		_ = s.Sessions.DeleteByUser(ctx, account.ID)
		return nil, ErrUserBlocked
	}
	return &ResolveResult{User: account, Session: session}, nil
}

func (s *Service) configured() bool {
	return s.Users != nil && s.Sessions != nil && s.Passwords != nil && s.Tokens != nil
}

func (s *Service) log(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Info(msg, args...)
	}
}
