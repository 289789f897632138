package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"clinix/internal/domain/user"
)

var (
	ErrNameRequired    = errors.New("chat: conversation name is required")
	ErrCreatorRequired = errors.New("chat: creator is required")
	ErrEmptyMessage    = errors.New("chat: message text is empty")
	ErrNotCreator      = errors.New("chat: only the creator can delete the conversation")
	ErrNotMember       = errors.New("chat: user is not a member of the conversation")
	ErrAlreadyMember   = errors.New("chat: user is already a member")
	ErrNotFound        = errors.New("chat: conversation not found")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrProfileNotFound = errors.New("chat: profile not found")
)

type ConversationID string

type MessageID string

// Conversation is a named multi-member channel. LastMessage carries the newest
// message for directory previews and may be nil for an empty conversation.
type Conversation struct {
	ID          ConversationID
	Name        string
	Description string
	CreatedBy   user.ID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastMessage *Message
}

// Membership grants a user visibility into a conversation.
type Membership struct {
	ConversationID ConversationID
	UserID         user.ID
	JoinedAt       time.Time
}

// Message is append-only; ordering is by CreatedAt ascending. Author is the
// denormalized sender profile for rendering and may be nil until resolved.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	AuthorID       user.ID
	Text           string
	CreatedAt      time.Time
	Author         *Profile
}

// Profile is the chat-facing projection of a user.
type Profile struct {
	ID        user.ID
	Name      string
	AvatarURL string
	Role      string
	BranchIDs []string
}

// Member combines a membership row with the member's profile.
type Member struct {
	Membership
	Profile *Profile
}

type CreateConversationParams struct {
	Name        string
	Description string
	CreatedBy   user.ID
	MemberIDs   []user.ID
	Now         time.Time
}

// Validate normalizes the params and enforces the creation invariants. The
// creator is always included in the member set.
func (p *CreateConversationParams) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return ErrNameRequired
	}
	p.Description = strings.TrimSpace(p.Description)
	if strings.TrimSpace(string(p.CreatedBy)) == "" {
		return ErrCreatorRequired
	}
	seen := map[user.ID]struct{}{p.CreatedBy: {}}
	members := []user.ID{p.CreatedBy}
	for _, id := range p.MemberIDs {
		id = user.ID(strings.TrimSpace(string(id)))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	p.MemberIDs = members
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	p.Now = p.Now.UTC()
	return nil
}

// Store is the row-level contract the hosted backend exposes. Implementations
// are authoritative; session caches only mirror what they return.
type Store interface {
	CreateConversation(ctx context.Context, params CreateConversationParams) (*Conversation, error)
	Conversation(ctx context.Context, id ConversationID) (*Conversation, error)
	DeleteConversation(ctx context.Context, id ConversationID) error

	// ListConversations returns every conversation with a membership row for
	// the user, each enriched with its newest message. Zero conversations is
	// an empty slice, not an error.
	ListConversations(ctx context.Context, userID user.ID) ([]Conversation, error)

	AddMember(ctx context.Context, id ConversationID, userID user.ID, now time.Time) (*Membership, error)
	RemoveMember(ctx context.Context, id ConversationID, userID user.ID) error
	Members(ctx context.Context, id ConversationID) ([]Member, error)

	InsertMessage(ctx context.Context, id ConversationID, authorID user.ID, text string, now time.Time) (*Message, error)
	Messages(ctx context.Context, id ConversationID) ([]Message, error)

	Profile(ctx context.Context, userID user.ID) (*Profile, error)
	Profiles(ctx context.Context) ([]Profile, error)
	SaveProfile(ctx context.Context, profile *Profile) error
}
