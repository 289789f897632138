package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	domainchat "clinix/internal/domain/chat"
	domainuser "clinix/internal/domain/user"
)

var ErrSessionClosed = errors.New("chat: session is closed")

// State tracks the active-conversation lifecycle. Opening covers the
// concurrent message/member fetch; Closing covers subscription teardown
// before the next Opening can begin.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosing State = "closing"
)

// Session owns one user's chat caches: the conversation directory, the single
// active conversation with its messages and members, and both live-update
// subscriptions. The store stays authoritative; the session only mirrors it.
//
// Methods are safe for concurrent use. Every fetch issued while opening a
// conversation is tagged with an epoch; a result that arrives after the
// session has moved on is discarded without touching the caches.
type Session struct {
	userID   domainuser.ID
	store    domainchat.Store
	feed     domainchat.Feed
	recorder Recorder
	logger   *slog.Logger
	timeout  time.Duration

	mu        sync.Mutex
	state     State
	epoch     uint64
	directory []domainchat.Conversation
	active    *domainchat.Conversation
	messages  []domainchat.Message
	members   []domainchat.Member
	profiles  map[domainuser.ID]*domainchat.Profile
	msgSub    domainchat.Subscription
	closed    bool

	memberSub domainchat.Subscription
	closeOnce sync.Once
}

func newSession(ctx context.Context, userID domainuser.ID, store domainchat.Store, feed domainchat.Feed, recorder Recorder, logger *slog.Logger, timeout time.Duration) (*Session, error) {
	s := &Session{
		userID:   userID,
		store:    store,
		feed:     feed,
		recorder: recorder,
		logger:   logger,
		timeout:  timeout,
		state:    StateClosed,
		profiles: make(map[domainuser.ID]*domainchat.Profile),
	}
	// Subscribe before the first directory fetch so a membership insert that
	// lands during the fetch still triggers a re-list.
	sub, err := feed.Subscribe(ctx, domainchat.MembershipInserts(string(userID)))
	if err != nil {
		return nil, err
	}
	s.memberSub = sub
	go s.watchMemberships(sub)
	if err := s.Refresh(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return s, nil
}

// Refresh fully replaces the directory with the store's view. Zero
// conversations is a valid empty directory.
func (s *Session) Refresh(ctx context.Context) error {
	conversations, err := s.store.ListConversations(ctx, s.userID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.directory = conversations
	return nil
}

// Open makes the conversation the active one. A no-op when it already is.
// The previous conversation's subscription is torn down first, then the new
// message feed is subscribed BEFORE the snapshot fetch: events that race the
// snapshot are replayed through the id-dedupe append instead of being lost.
func (s *Session) Open(ctx context.Context, id domainchat.ConversationID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.active != nil && s.active.ID == id {
		s.mu.Unlock()
		return nil
	}
	prevSub := s.msgSub
	s.msgSub = nil
	s.state = StateClosing
	s.active = nil
	s.messages = nil
	s.members = nil
	s.epoch++
	epoch := s.epoch
	s.state = StateOpening
	s.mu.Unlock()

	if prevSub != nil {
		_ = prevSub.Close()
	}

	sub, err := s.feed.Subscribe(ctx, domainchat.MessageInserts(id))
	if err != nil {
		s.failOpen(epoch)
		return err
	}
	conversation, err := s.store.Conversation(ctx, id)
	if err != nil {
		_ = sub.Close()
		s.failOpen(epoch)
		return err
	}
	history, err := s.store.Messages(ctx, id)
	if err != nil {
		_ = sub.Close()
		s.failOpen(epoch)
		return err
	}
	memberList, err := s.store.Members(ctx, id)
	if err != nil {
		_ = sub.Close()
		s.failOpen(epoch)
		return err
	}

	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		// A later Open or Close superseded this fetch; the result is stale
		// and must not touch the caches.
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.active = conversation
	s.messages = history
	s.members = memberList
	for i := range memberList {
		if p := memberList[i].Profile; p != nil {
			s.profiles[p.ID] = p
		}
	}
	for i := range history {
		if p := history[i].Author; p != nil {
			s.profiles[p.ID] = p
		}
	}
	s.msgSub = sub
	s.state = StateOpen
	s.mu.Unlock()

	go s.watchMessages(sub, epoch)
	return nil
}

// CloseActive returns the session to the Closed state, releasing the message
// subscription exactly once.
func (s *Session) CloseActive() {
	s.mu.Lock()
	sub := s.msgSub
	s.msgSub = nil
	s.state = StateClosing
	s.active = nil
	s.messages = nil
	s.members = nil
	s.epoch++
	s.state = StateClosed
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// Close releases both subscriptions. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.CloseActive()
		s.mu.Lock()
		s.closed = true
		s.directory = nil
		sub := s.memberSub
		s.memberSub = nil
		s.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
	})
}

// Send inserts a message. Empty or whitespace-only text is rejected locally
// with no store call. The local append happens only through the feed echo,
// keeping a single source of ordering truth.
func (s *Session) Send(ctx context.Context, id domainchat.ConversationID, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domainchat.ErrEmptyMessage
	}
	message, err := s.store.InsertMessage(ctx, id, s.userID, trimmed, time.Now())
	if err != nil {
		return err
	}
	// The payload carries the full row so relays on other instances can feed
	// their local live-update hubs without a read-back.
	s.record(ctx, "chat.message.sent", string(id), map[string]any{
		"message_id":      string(message.ID),
		"conversation_id": string(id),
		"author_id":       string(s.userID),
		"text":            message.Text,
		"created_at":      message.CreatedAt,
	})
	return nil
}

// CreateConversation creates a conversation with the session user as creator
// and refreshes the directory.
func (s *Session) CreateConversation(ctx context.Context, name, description string, memberIDs []domainuser.ID) (*domainchat.Conversation, error) {
	params := domainchat.CreateConversationParams{
		Name:        name,
		Description: description,
		CreatedBy:   s.userID,
		MemberIDs:   memberIDs,
		Now:         time.Now(),
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	conversation, err := s.store.CreateConversation(ctx, params)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "chat.conversation.created", string(conversation.ID), map[string]any{
		"conversation_id": string(conversation.ID),
		"created_by":      string(s.userID),
		"members":         len(params.MemberIDs),
	})
	if err := s.Refresh(ctx); err != nil && s.logger != nil {
		s.logger.Warn("directory refresh after create failed", "error", err, "user_id", s.userID)
	}
	return conversation, nil
}

// DeleteConversation deletes a conversation after re-reading its creator
// field. A non-creator caller gets ErrNotCreator and no cache is mutated.
func (s *Session) DeleteConversation(ctx context.Context, id domainchat.ConversationID) error {
	conversation, err := s.store.Conversation(ctx, id)
	if err != nil {
		return err
	}
	if conversation.CreatedBy != s.userID {
		return domainchat.ErrNotCreator
	}
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "chat.conversation.deleted", string(id), map[string]any{
		"conversation_id": string(id),
		"deleted_by":      string(s.userID),
	})
	if s.isActive(id) {
		s.CloseActive()
	}
	if err := s.Refresh(ctx); err != nil && s.logger != nil {
		s.logger.Warn("directory refresh after delete failed", "error", err, "user_id", s.userID)
	}
	return nil
}

// AddMember inserts a membership row and, when the conversation is open,
// refreshes the member list.
func (s *Session) AddMember(ctx context.Context, id domainchat.ConversationID, userID domainuser.ID) error {
	if _, err := s.store.AddMember(ctx, id, userID, time.Now()); err != nil {
		return err
	}
	s.record(ctx, "chat.member.added", string(id), map[string]any{
		"conversation_id": string(id),
		"user_id":         string(userID),
		"added_by":        string(s.userID),
		"joined_at":       time.Now().UTC(),
	})
	s.refreshMembersIfActive(ctx, id)
	return nil
}

// RemoveMember deletes a membership row. Removing the session user from the
// active conversation closes it (access is gone) and refreshes the directory.
func (s *Session) RemoveMember(ctx context.Context, id domainchat.ConversationID, userID domainuser.ID) error {
	if err := s.store.RemoveMember(ctx, id, userID); err != nil {
		return err
	}
	s.record(ctx, "chat.member.removed", string(id), map[string]any{
		"conversation_id": string(id),
		"user_id":         string(userID),
		"removed_by":      string(s.userID),
	})
	if userID == s.userID {
		if s.isActive(id) {
			s.CloseActive()
		}
		if err := s.Refresh(ctx); err != nil && s.logger != nil {
			s.logger.Warn("directory refresh after self-removal failed", "error", err, "user_id", s.userID)
		}
		return nil
	}
	s.refreshMembersIfActive(ctx, id)
	return nil
}

// State reports the active-conversation lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Directory returns a copy of the cached conversation list.
func (s *Session) Directory() []domainchat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domainchat.Conversation(nil), s.directory...)
}

// Active returns a copy of the open conversation, or nil.
func (s *Session) Active() *domainchat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	active := *s.active
	return &active
}

// Messages returns a copy of the active conversation's ordered message cache.
func (s *Session) Messages() []domainchat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domainchat.Message(nil), s.messages...)
}

// Members returns a copy of the active conversation's member list.
func (s *Session) Members() []domainchat.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domainchat.Member(nil), s.members...)
}

func (s *Session) watchMemberships(sub domainchat.Subscription) {
	for range sub.Events() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout())
		if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrSessionClosed) && s.logger != nil {
			s.logger.Warn("directory refresh on membership event failed", "error", err, "user_id", s.userID)
		}
		cancel()
	}
}

func (s *Session) watchMessages(sub domainchat.Subscription, epoch uint64) {
	for event := range sub.Events() {
		if event.Message == nil {
			continue
		}
		s.applyMessage(epoch, event.Message)
	}
}

// applyMessage merges one insert event into the active message cache. The
// author profile is resolved before taking the lock; the epoch is re-checked
// afterwards so a resolve that outlived the conversation is dropped.
func (s *Session) applyMessage(epoch uint64, message *domainchat.Message) {
	author := message.Author
	if author == nil {
		author = s.cachedProfile(message.AuthorID)
	}
	if author == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout())
		profile, err := s.store.Profile(ctx, message.AuthorID)
		cancel()
		if err == nil {
			author = profile
		} else if s.logger != nil {
			s.logger.Warn("author profile fetch failed", "error", err, "author_id", message.AuthorID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch || s.active == nil || s.active.ID != message.ConversationID {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == message.ID {
			// Duplicate delivery; the append is idempotent.
			return
		}
	}
	merged := *message
	merged.Author = author
	if author != nil {
		s.profiles[author.ID] = author
	}
	s.messages = insertOrdered(s.messages, merged)
	s.touchPreview(merged)
}

// touchPreview updates the directory entry's latest-message summary in place.
func (s *Session) touchPreview(message domainchat.Message) {
	for i := range s.directory {
		if s.directory[i].ID != message.ConversationID {
			continue
		}
		summary := message
		s.directory[i].LastMessage = &summary
		if message.CreatedAt.After(s.directory[i].UpdatedAt) {
			s.directory[i].UpdatedAt = message.CreatedAt
		}
		return
	}
}

func (s *Session) refreshMembersIfActive(ctx context.Context, id domainchat.ConversationID) {
	s.mu.Lock()
	if s.active == nil || s.active.ID != id {
		s.mu.Unlock()
		return
	}
	epoch := s.epoch
	s.mu.Unlock()

	memberList, err := s.store.Members(ctx, id)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("member list refresh failed", "error", err, "conversation_id", id)
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.active == nil || s.active.ID != id {
		return
	}
	s.members = memberList
	for i := range memberList {
		if p := memberList[i].Profile; p != nil {
			s.profiles[p.ID] = p
		}
	}
}

func (s *Session) failOpen(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch && s.state == StateOpening {
		s.state = StateClosed
	}
}

func (s *Session) isActive(id domainchat.ConversationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.ID == id
}

func (s *Session) cachedProfile(id domainuser.ID) *domainchat.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[id]
}

func (s *Session) record(ctx context.Context, name, aggregate string, payload map[string]any) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, name, aggregate, payload); err != nil && s.logger != nil {
		s.logger.Warn("event record failed", "event", name, "error", err)
	}
}

func (s *Session) opTimeout() time.Duration {
	if s.timeout > 0 {
		return s.timeout
	}
	return 10 * time.Second
}

func insertOrdered(messages []domainchat.Message, message domainchat.Message) []domainchat.Message {
	idx := sort.Search(len(messages), func(i int) bool {
		return messages[i].CreatedAt.After(message.CreatedAt)
	})
	messages = append(messages, domainchat.Message{})
	copy(messages[idx+1:], messages[idx:])
	messages[idx] = message
	return messages
}
