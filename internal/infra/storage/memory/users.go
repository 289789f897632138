package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domainauth "clinix/internal/domain/auth"
	domainuser "clinix/internal/domain/user"
)

// UserRepository keeps accounts in process memory. It backs local runs and
// tests when no Mongo URI is configured.
type UserRepository struct {
	mu     sync.RWMutex
	users  map[domainuser.ID]*domainuser.User
	emails map[string]domainuser.ID
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:  make(map[domainuser.ID]*domainuser.User),
		emails: make(map[string]domainuser.ID),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *UserRepository) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	return copyUser(u), nil
}

func (r *UserRepository) ByEmail(ctx context.Context, email string) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[r.emails[emailKey(email)]]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	return copyUser(u), nil
}

func (r *UserRepository) Save(ctx context.Context, u *domainuser.User) error {
	if u == nil || strings.TrimSpace(string(u.ID)) == "" {
		return domainuser.ErrIDRequired
	}
	key := emailKey(u.Email)
	if key == "" {
		return domainuser.ErrEmailRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, taken := r.emails[key]; taken && owner != u.ID {
		return domainuser.ErrEmailAlreadyUsed
	}
	if prev, ok := r.users[u.ID]; ok {
		// email changed on re-save: drop the old index entry
		if old := emailKey(prev.Email); old != key {
			delete(r.emails, old)
		}
	}
	r.emails[key] = u.ID
	r.users[u.ID] = copyUser(u)
	return nil
}

func (r *UserRepository) List(ctx context.Context, params domainuser.ListParams) ([]*domainuser.User, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(params.Query))
	matched := make([]*domainuser.User, 0, len(r.users))
	for _, u := range r.users {
		if query != "" &&
			!strings.Contains(strings.ToLower(u.Name), query) &&
			!strings.Contains(strings.ToLower(u.Email), query) {
			continue
		}
		matched = append(matched, copyUser(u))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Email < matched[j].Email })

	total := len(matched)
	offset := params.Offset
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if params.Limit > 0 && params.Limit < len(matched) {
		matched = matched[:params.Limit]
	}
	return matched, total, nil
}

func copyUser(u *domainuser.User) *domainuser.User {
	if u == nil {
		return nil
	}
	out := *u
	out.BranchIDs = append([]string(nil), u.BranchIDs...)
	return &out
}

// SessionStore keeps bearer sessions in memory with a per-user token index so
// DeleteByUser stays O(sessions of that user).
type SessionStore struct {
	mu       sync.Mutex
	sessions map[domainauth.Token]*domainauth.Session
	byUser   map[domainuser.ID]map[domainauth.Token]struct{}
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domainauth.Token]*domainauth.Session),
		byUser:   make(map[domainuser.ID]map[domainauth.Token]struct{}),
	}
}

func (s *SessionStore) Save(ctx context.Context, session *domainauth.Session) error {
	if session == nil {
		return domainauth.ErrTokenRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *session
	s.sessions[session.Token] = &dup
	tokens := s.byUser[session.UserID]
	if tokens == nil {
		tokens = make(map[domainauth.Token]struct{})
		s.byUser[session.UserID] = tokens
	}
	tokens[session.Token] = struct{}{}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, token domainauth.Token) (*domainauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, domainauth.ErrSessionNotFound
	}
	if session.Expired(time.Now()) {
		s.dropLocked(token, session.UserID)
		return nil, domainauth.ErrSessionNotFound
	}
	dup := *session
	return &dup, nil
}

func (s *SessionStore) Delete(ctx context.Context, token domainauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[token]; ok {
		s.dropLocked(token, session.UserID)
	}
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID domainuser.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token := range s.byUser[userID] {
		delete(s.sessions, token)
	}
	delete(s.byUser, userID)
	return nil
}

func (s *SessionStore) dropLocked(token domainauth.Token, userID domainuser.ID) {
	delete(s.sessions, token)
	if tokens := s.byUser[userID]; tokens != nil {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(s.byUser, userID)
		}
	}
}

var _ domainuser.Repository = (*UserRepository)(nil)
var _ domainauth.SessionStore = (*SessionStore)(nil)
