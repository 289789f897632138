package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	domainchat "clinix/internal/domain/chat"
	domainuser "clinix/internal/domain/user"
)

// Recorder appends a domain event for later publication (outbox).
type Recorder interface {
	Record(ctx context.Context, name, aggregate string, payload any) error
}

// Service hands out one chat Session per authenticated user and releases it
// on logout. Sessions are created lazily on first use.
type Service struct {
	Store     domainchat.Store
	Feed      domainchat.Feed
	Recorder  Recorder
	Logger    *slog.Logger
	OpTimeout time.Duration

	mu       sync.Mutex
	sessions map[domainuser.ID]*Session
	closed   bool
}

// Session returns the user's session, creating and initializing it (membership
// subscription plus initial directory load) on first access.
func (s *Service) Session(ctx context.Context, userID domainuser.ID) (*Session, error) {
	if s.Store == nil || s.Feed == nil {
		return nil, errors.New("chat: store and feed are required")
	}
	if strings.TrimSpace(string(userID)) == "" {
		return nil, domainuser.ErrIDRequired
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if existing, ok := s.sessions[userID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	session, err := newSession(ctx, userID, s.Store, s.Feed, s.Recorder, s.Logger, s.OpTimeout)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		session.Close()
		return nil, ErrSessionClosed
	}
	if existing, ok := s.sessions[userID]; ok {
		// Lost the creation race; keep the first one.
		session.Close()
		return existing, nil
	}
	if s.sessions == nil {
		s.sessions = make(map[domainuser.ID]*Session)
	}
	s.sessions[userID] = session
	return session, nil
}

// Release tears down the user's session, if any. Called on logout so the
// membership subscription is freed exactly once.
func (s *Service) Release(userID domainuser.ID) {
	s.mu.Lock()
	session, ok := s.sessions[userID]
	if ok {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()
	if ok {
		session.Close()
	}
}

// Close releases every session.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = nil
	s.closed = true
	s.mu.Unlock()
	for _, session := range sessions {
		session.Close()
	}
}

// Profiles lists every chat profile, for member pickers.
func (s *Service) Profiles(ctx context.Context) ([]domainchat.Profile, error) {
	if s.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	return s.Store.Profiles(ctx)
}

// UpdateProfile applies display-name and avatar changes to the user's chat
// profile.
func (s *Service) UpdateProfile(ctx context.Context, userID domainuser.ID, name, avatarURL string) (*domainchat.Profile, error) {
	if s.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	profile, err := s.Store.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		profile.Name = trimmed
	}
	if trimmed := strings.TrimSpace(avatarURL); trimmed != "" {
		profile.AvatarURL = trimmed
	}
	if err := s.Store.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}
