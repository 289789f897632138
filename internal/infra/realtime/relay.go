package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"clinix/internal/domain/chat"
	"clinix/internal/domain/user"
)

const (
	eventMessageSent = "chat.message.sent.v1"
	eventMemberAdded = "chat.member.added.v1"
)

// Relay feeds chat row inserts published by other instances into the local
// hub. Events from this instance's own outbox are skipped, since the local
// store already published them; duplicated deliveries are harmless because
// session caches dedupe by row id.
type Relay struct {
	Hub    *Hub
	Source string
	Logger *slog.Logger
}

type cloudEvent struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

func (r *Relay) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt cloudEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		r.log().Warn("relay: undecodable event, skipping", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	if evt.Source == r.Source {
		return nil
	}
	switch evt.Type {
	case eventMessageSent:
		return r.handleMessage(evt)
	case eventMemberAdded:
		return r.handleMembership(evt)
	default:
		return nil
	}
}

func (r *Relay) handleMessage(evt cloudEvent) error {
	var data struct {
		MessageID      string    `json:"message_id"`
		ConversationID string    `json:"conversation_id"`
		AuthorID       string    `json:"author_id"`
		Text           string    `json:"text"`
		CreatedAt      time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		r.log().Warn("relay: bad message payload, skipping", "event_id", evt.ID, "error", err)
		return nil
	}
	if data.MessageID == "" || data.ConversationID == "" {
		return nil
	}
	r.Hub.Publish(chat.Event{
		Table: chat.TableMessages,
		Message: &chat.Message{
			ID:             chat.MessageID(data.MessageID),
			ConversationID: chat.ConversationID(data.ConversationID),
			AuthorID:       user.ID(data.AuthorID),
			Text:           data.Text,
			CreatedAt:      data.CreatedAt,
		},
	})
	return nil
}

func (r *Relay) handleMembership(evt cloudEvent) error {
	var data struct {
		ConversationID string    `json:"conversation_id"`
		UserID         string    `json:"user_id"`
		JoinedAt       time.Time `json:"joined_at"`
	}
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		r.log().Warn("relay: bad membership payload, skipping", "event_id", evt.ID, "error", err)
		return nil
	}
	if data.ConversationID == "" || data.UserID == "" {
		return nil
	}
	r.Hub.Publish(chat.Event{
		Table: chat.TableMemberships,
		Membership: &chat.Membership{
			ConversationID: chat.ConversationID(data.ConversationID),
			UserID:         user.ID(data.UserID),
			JoinedAt:       data.JoinedAt,
		},
	})
	return nil
}

func (r *Relay) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
