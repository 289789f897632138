package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "clinix/internal/domain/auth"
	domainuser "clinix/internal/domain/user"
)

const (
	sessionKeyPrefix = "session:"
	userKeyPrefix    = "user-sessions:"
)

// SessionStore keeps bearer sessions in Redis with a TTL matching the
// session expiry, so stale tokens disappear on their own.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(addr string) (*SessionStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &SessionStore{client: client}, nil
}

func (s *SessionStore) Save(ctx context.Context, session *domainauth.Session) error {
	if session == nil {
		return domainauth.ErrTokenRequired
	}
	payload, err := json.Marshal(sessionRecord{
		Token:     string(session.Token),
		UserID:    string(session.UserID),
		Role:      string(session.Role),
		CreatedAt: session.CreatedAt.UnixMilli(),
		ExpiresAt: session.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	ttl := session.TTL(time.Now())
	if ttl == 0 {
		return domainauth.ErrTTLInvalid
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+string(session.Token), payload, ttl)
	pipe.SAdd(ctx, userKeyPrefix+string(session.UserID), string(session.Token))
	pipe.Expire(ctx, userKeyPrefix+string(session.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Get(ctx context.Context, token domainauth.Token) (*domainauth.Session, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+string(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domainauth.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	session := record.toDomain()
	if session.Expired(time.Now().UTC()) {
		_ = s.Delete(ctx, token)
		return nil, domainauth.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Delete(ctx context.Context, token domainauth.Token) error {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+string(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err == nil && record.UserID != "" {
		_ = s.client.SRem(ctx, userKeyPrefix+record.UserID, string(token)).Err()
	}
	return s.client.Del(ctx, sessionKeyPrefix+string(token)).Err()
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID domainuser.ID) error {
	tokens, err := s.client.SMembers(ctx, userKeyPrefix+string(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, sessionKeyPrefix+token)
	}
	keys = append(keys, userKeyPrefix+string(userID))
	return s.client.Del(ctx, keys...).Err()
}

func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) Close() error {
	return s.client.Close()
}

type sessionRecord struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func (r sessionRecord) toDomain() *domainauth.Session {
	return &domainauth.Session{
		Token:     domainauth.Token(r.Token),
		UserID:    domainuser.ID(r.UserID),
		Role:      domainuser.Role(r.Role),
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(r.ExpiresAt).UTC(),
	}
}

var _ domainauth.SessionStore = (*SessionStore)(nil)
