package dto

import (
	"time"

	domainchat "clinix/internal/domain/chat"
)

// Conversation describes a chat thread for the directory and detail views.
type Conversation struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	AuthorName     string    `json:"author_name,omitempty"`
	AuthorAvatar   string    `json:"author_avatar,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatMember is a membership row joined with the member's profile.
type ChatMember struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      string    `json:"role,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

// ChatProfile is a user as seen by the chat directory.
type ChatProfile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatar_url,omitempty"`
	Role      string   `json:"role,omitempty"`
	BranchIDs []string `json:"branch_ids,omitempty"`
}

// ConversationDetail is the open-conversation view: metadata plus the full
// message and member caches.
type ConversationDetail struct {
	Conversation Conversation  `json:"conversation"`
	Messages     []ChatMessage `json:"messages"`
	Members      []ChatMember  `json:"members"`
}

func NewConversation(c *domainchat.Conversation) Conversation {
	result := Conversation{
		ID:          string(c.ID),
		Name:        c.Name,
		Description: c.Description,
		CreatedBy:   string(c.CreatedBy),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.LastMessage != nil {
		message := NewChatMessage(*c.LastMessage)
		result.LastMessage = &message
	}
	return result
}

func NewChatMessage(m domainchat.Message) ChatMessage {
	result := ChatMessage{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		AuthorID:       string(m.AuthorID),
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
	}
	if m.Author != nil {
		result.AuthorName = m.Author.Name
		result.AuthorAvatar = m.Author.AvatarURL
	}
	return result
}

func NewChatMember(m domainchat.Member) ChatMember {
	result := ChatMember{
		UserID:   string(m.UserID),
		JoinedAt: m.JoinedAt,
	}
	if m.Profile != nil {
		result.Name = m.Profile.Name
		result.AvatarURL = m.Profile.AvatarURL
		result.Role = m.Profile.Role
	}
	return result
}

func NewChatProfile(p domainchat.Profile) ChatProfile {
	return ChatProfile{
		ID:        string(p.ID),
		Name:      p.Name,
		AvatarURL: p.AvatarURL,
		Role:      p.Role,
		BranchIDs: append([]string(nil), p.BranchIDs...),
	}
}
