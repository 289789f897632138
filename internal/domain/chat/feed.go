package chat

import (
	"context"
	"errors"
)

var ErrSubscriptionClosed = errors.New("chat: subscription closed")

// Table names the feed can filter on.
const (
	TableMessages    = "messages"
	TableMemberships = "chat_members"
)

// Event is a row-level insert notification. Exactly one of Message and
// Membership is set, matching Table.
type Event struct {
	Table      string
	Message    *Message
	Membership *Membership
}

// Filter selects insert events by table and an equality match on one column.
type Filter struct {
	Table string
	Field string
	Value string
}

// MessageInserts matches new messages in one conversation.
func MessageInserts(id ConversationID) Filter {
	return Filter{Table: TableMessages, Field: "chat_id", Value: string(id)}
}

// MembershipInserts matches new membership rows for one user.
func MembershipInserts(userID string) Filter {
	return Filter{Table: TableMemberships, Field: "user_id", Value: userID}
}

// Matches reports whether the event satisfies the filter.
func (f Filter) Matches(e Event) bool {
	if f.Table != e.Table {
		return false
	}
	switch e.Table {
	case TableMessages:
		if e.Message == nil {
			return false
		}
		if f.Field == "chat_id" {
			return string(e.Message.ConversationID) == f.Value
		}
	case TableMemberships:
		if e.Membership == nil {
			return false
		}
		if f.Field == "user_id" {
			return string(e.Membership.UserID) == f.Value
		}
	}
	return false
}

// Subscription is a live-update channel handle. It must be released exactly
// once; failing to release on transition is a correctness bug, not a
// performance nit.
type Subscription interface {
	// Events yields matching inserts. The channel is closed when the
	// subscription is released or the feed shuts down.
	Events() <-chan Event
	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// Feed is the subscribe-by-filter primitive of the hosted store.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
}
