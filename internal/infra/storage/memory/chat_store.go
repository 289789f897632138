package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domainchat "clinix/internal/domain/chat"
	domainuser "clinix/internal/domain/user"
)

// Publisher receives row-insert notifications, typically the realtime hub.
type Publisher interface {
	Publish(event domainchat.Event)
}

// ChatStore keeps conversations, memberships, messages and profiles in
// memory. Used by tests and the zero-dependency dev wiring.
type ChatStore struct {
	publisher Publisher

	mu            sync.RWMutex
	conversations map[domainchat.ConversationID]*domainchat.Conversation
	memberships   map[domainchat.ConversationID]map[domainuser.ID]*domainchat.Membership
	messages      map[domainchat.ConversationID][]domainchat.Message
	profiles      map[domainuser.ID]*domainchat.Profile
}

func NewChatStore(publisher Publisher) *ChatStore {
	return &ChatStore{
		publisher:     publisher,
		conversations: make(map[domainchat.ConversationID]*domainchat.Conversation),
		memberships:   make(map[domainchat.ConversationID]map[domainuser.ID]*domainchat.Membership),
		messages:      make(map[domainchat.ConversationID][]domainchat.Message),
		profiles:      make(map[domainuser.ID]*domainchat.Profile),
	}
}

func (s *ChatStore) CreateConversation(ctx context.Context, params domainchat.CreateConversationParams) (*domainchat.Conversation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	conversation := &domainchat.Conversation{
		ID:          domainchat.ConversationID(uuid.NewString()),
		Name:        params.Name,
		Description: params.Description,
		CreatedBy:   params.CreatedBy,
		CreatedAt:   params.Now,
		UpdatedAt:   params.Now,
	}
	memberships := make([]*domainchat.Membership, 0, len(params.MemberIDs))
	for _, id := range params.MemberIDs {
		memberships = append(memberships, &domainchat.Membership{
			ConversationID: conversation.ID,
			UserID:         id,
			JoinedAt:       params.Now,
		})
	}

	s.mu.Lock()
	s.conversations[conversation.ID] = cloneConversation(conversation)
	rows := make(map[domainuser.ID]*domainchat.Membership, len(memberships))
	for _, m := range memberships {
		rows[m.UserID] = m
	}
	s.memberships[conversation.ID] = rows
	s.mu.Unlock()

	for _, m := range memberships {
		s.publish(domainchat.Event{Table: domainchat.TableMemberships, Membership: cloneMembership(m)})
	}
	return cloneConversation(conversation), nil
}

func (s *ChatStore) Conversation(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversation, ok := s.conversations[id]
	if !ok {
		return nil, domainchat.ErrNotFound
	}
	result := cloneConversation(conversation)
	result.LastMessage = s.lastMessageLocked(id)
	return result, nil
}

func (s *ChatStore) DeleteConversation(ctx context.Context, id domainchat.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return domainchat.ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.memberships, id)
	delete(s.messages, id)
	return nil
}

func (s *ChatStore) ListConversations(ctx context.Context, userID domainuser.ID) ([]domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domainchat.Conversation, 0)
	for id, rows := range s.memberships {
		if _, ok := rows[userID]; !ok {
			continue
		}
		conversation, ok := s.conversations[id]
		if !ok {
			continue
		}
		entry := cloneConversation(conversation)
		entry.LastMessage = s.lastMessageLocked(id)
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return lastActivity(result[i]).After(lastActivity(result[j]))
	})
	return result, nil
}

func (s *ChatStore) AddMember(ctx context.Context, id domainchat.ConversationID, userID domainuser.ID, now time.Time) (*domainchat.Membership, error) {
	if now.IsZero() {
		now = time.Now()
	}
	membership := &domainchat.Membership{ConversationID: id, UserID: userID, JoinedAt: now.UTC()}

	s.mu.Lock()
	if _, ok := s.conversations[id]; !ok {
		s.mu.Unlock()
		return nil, domainchat.ErrNotFound
	}
	rows := s.memberships[id]
	if rows == nil {
		rows = make(map[domainuser.ID]*domainchat.Membership)
		s.memberships[id] = rows
	}
	if _, ok := rows[userID]; ok {
		s.mu.Unlock()
		return nil, domainchat.ErrAlreadyMember
	}
	rows[userID] = membership
	s.mu.Unlock()

	s.publish(domainchat.Event{Table: domainchat.TableMemberships, Membership: cloneMembership(membership)})
	return cloneMembership(membership), nil
}

func (s *ChatStore) RemoveMember(ctx context.Context, id domainchat.ConversationID, userID domainuser.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.memberships[id]
	if !ok {
		return domainchat.ErrNotFound
	}
	if _, ok := rows[userID]; !ok {
		return domainchat.ErrNotMember
	}
	delete(rows, userID)
	return nil
}

func (s *ChatStore) Members(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.memberships[id]
	if !ok {
		return nil, domainchat.ErrNotFound
	}
	result := make([]domainchat.Member, 0, len(rows))
	for _, m := range rows {
		member := domainchat.Member{Membership: *m}
		if profile, ok := s.profiles[m.UserID]; ok {
			member.Profile = cloneProfile(profile)
		}
		result = append(result, member)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result, nil
}

func (s *ChatStore) InsertMessage(ctx context.Context, id domainchat.ConversationID, authorID domainuser.ID, text string, now time.Time) (*domainchat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domainchat.ErrEmptyMessage
	}
	if now.IsZero() {
		now = time.Now()
	}
	message := domainchat.Message{
		ID:             domainchat.MessageID(uuid.NewString()),
		ConversationID: id,
		AuthorID:       authorID,
		Text:           text,
		CreatedAt:      now.UTC(),
	}

	s.mu.Lock()
	conversation, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return nil, domainchat.ErrNotFound
	}
	if rows := s.memberships[id]; rows != nil {
		if _, member := rows[authorID]; !member {
			s.mu.Unlock()
			return nil, domainchat.ErrNotMember
		}
	}
	s.messages[id] = append(s.messages[id], message)
	if message.CreatedAt.After(conversation.UpdatedAt) {
		conversation.UpdatedAt = message.CreatedAt
	}
	s.mu.Unlock()

	s.publish(domainchat.Event{Table: domainchat.TableMessages, Message: cloneMessage(&message)})
	return cloneMessage(&message), nil
}

func (s *ChatStore) Messages(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[id]; !ok {
		return nil, domainchat.ErrNotFound
	}
	history := s.messages[id]
	result := make([]domainchat.Message, 0, len(history))
	for i := range history {
		message := history[i]
		if profile, ok := s.profiles[message.AuthorID]; ok {
			message.Author = cloneProfile(profile)
		}
		result = append(result, message)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *ChatStore) Profile(ctx context.Context, userID domainuser.ID) (*domainchat.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, domainchat.ErrProfileNotFound
	}
	return cloneProfile(profile), nil
}

func (s *ChatStore) Profiles(ctx context.Context) ([]domainchat.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domainchat.Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		result = append(result, *cloneProfile(profile))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *ChatStore) SaveProfile(ctx context.Context, profile *domainchat.Profile) error {
	if profile == nil || strings.TrimSpace(string(profile.ID)) == "" {
		return domainuser.ErrIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = cloneProfile(profile)
	return nil
}

func (s *ChatStore) publish(event domainchat.Event) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

// lastMessageLocked requires at least a read lock.
func (s *ChatStore) lastMessageLocked(id domainchat.ConversationID) *domainchat.Message {
	history := s.messages[id]
	if len(history) == 0 {
		return nil
	}
	last := history[0]
	for _, message := range history[1:] {
		if message.CreatedAt.After(last.CreatedAt) {
			last = message
		}
	}
	if profile, ok := s.profiles[last.AuthorID]; ok {
		last.Author = cloneProfile(profile)
	}
	return &last
}

func lastActivity(c domainchat.Conversation) time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}

func cloneConversation(c *domainchat.Conversation) *domainchat.Conversation {
	if c == nil {
		return nil
	}
	copyConversation := *c
	copyConversation.LastMessage = cloneMessage(c.LastMessage)
	return &copyConversation
}

func cloneMembership(m *domainchat.Membership) *domainchat.Membership {
	if m == nil {
		return nil
	}
	copyMembership := *m
	return &copyMembership
}

func cloneMessage(m *domainchat.Message) *domainchat.Message {
	if m == nil {
		return nil
	}
	copyMessage := *m
	copyMessage.Author = cloneProfile(m.Author)
	return &copyMessage
}

func cloneProfile(p *domainchat.Profile) *domainchat.Profile {
	if p == nil {
		return nil
	}
	copyProfile := *p
	copyProfile.BranchIDs = append([]string(nil), p.BranchIDs...)
	return &copyProfile
}

var _ domainchat.Store = (*ChatStore)(nil)
