package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainchat "clinix/internal/domain/chat"
	domainuser "clinix/internal/domain/user"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domainchat.Event
}

func (p *recordingPublisher) Publish(event domainchat.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []domainchat.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domainchat.Event(nil), p.events...)
}

func createConversation(t *testing.T, store *ChatStore, name string, createdBy domainuser.ID, members ...domainuser.ID) *domainchat.Conversation {
	t.Helper()
	conversation, err := store.CreateConversation(context.Background(), domainchat.CreateConversationParams{
		Name:      name,
		CreatedBy: createdBy,
		MemberIDs: members,
		Now:       time.Now(),
	})
	require.NoError(t, err)
	return conversation
}

func TestCreateConversationPublishesMemberships(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewChatStore(pub)

	conversation := createConversation(t, store, "front desk", "alice", "bob")

	members, err := store.Members(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, members, 2, "creator is always part of the member set")

	events := pub.all()
	require.Len(t, events, 2)
	for _, event := range events {
		require.Equal(t, domainchat.TableMemberships, event.Table)
		require.Equal(t, conversation.ID, event.Membership.ConversationID)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	store := NewChatStore(nil)

	_, err := store.CreateConversation(context.Background(), domainchat.CreateConversationParams{
		Name:      "   ",
		CreatedBy: "alice",
	})
	require.ErrorIs(t, err, domainchat.ErrNameRequired)

	_, err = store.CreateConversation(context.Background(), domainchat.CreateConversationParams{
		Name: "no creator",
	})
	require.ErrorIs(t, err, domainchat.ErrCreatorRequired)
}

func TestInsertMessagePublishesAfterStoring(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewChatStore(pub)
	conversation := createConversation(t, store, "front desk", "alice")

	message, err := store.InsertMessage(context.Background(), conversation.ID, "alice", "  hello  ", time.Now())
	require.NoError(t, err)
	require.Equal(t, "hello", message.Text)

	events := pub.all()
	last := events[len(events)-1]
	require.Equal(t, domainchat.TableMessages, last.Table)
	require.Equal(t, message.ID, last.Message.ID)

	history, err := store.Messages(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestInsertMessageRejections(t *testing.T) {
	store := NewChatStore(nil)
	conversation := createConversation(t, store, "front desk", "alice")

	_, err := store.InsertMessage(context.Background(), conversation.ID, "alice", "   ", time.Now())
	require.ErrorIs(t, err, domainchat.ErrEmptyMessage)

	_, err = store.InsertMessage(context.Background(), conversation.ID, "mallory", "hi", time.Now())
	require.ErrorIs(t, err, domainchat.ErrNotMember)

	_, err = store.InsertMessage(context.Background(), "missing", "alice", "hi", time.Now())
	require.ErrorIs(t, err, domainchat.ErrNotFound)
}

func TestListConversationsOrdersByActivity(t *testing.T) {
	store := NewChatStore(nil)
	older := createConversation(t, store, "older", "alice")
	newer := createConversation(t, store, "newer", "alice")
	createConversation(t, store, "foreign", "bob")

	_, err := store.InsertMessage(context.Background(), older.ID, "alice", "bump", time.Now().Add(time.Minute))
	require.NoError(t, err)

	list, err := store.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, older.ID, list[0].ID, "the conversation with the newest message sorts first")
	require.Equal(t, newer.ID, list[1].ID)
	require.NotNil(t, list[0].LastMessage)
	require.Equal(t, "bump", list[0].LastMessage.Text)
	require.Nil(t, list[1].LastMessage)
}

func TestListConversationsEmptyDirectory(t *testing.T) {
	store := NewChatStore(nil)
	list, err := store.ListConversations(context.Background(), "nobody")
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestMembershipLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewChatStore(pub)
	conversation := createConversation(t, store, "front desk", "alice")

	membership, err := store.AddMember(context.Background(), conversation.ID, "bob", time.Now())
	require.NoError(t, err)
	require.Equal(t, "bob", string(membership.UserID))

	_, err = store.AddMember(context.Background(), conversation.ID, "bob", time.Now())
	require.ErrorIs(t, err, domainchat.ErrAlreadyMember)

	require.NoError(t, store.RemoveMember(context.Background(), conversation.ID, "bob"))
	require.ErrorIs(t, store.RemoveMember(context.Background(), conversation.ID, "bob"), domainchat.ErrNotMember)

	_, err = store.AddMember(context.Background(), "missing", "bob", time.Now())
	require.ErrorIs(t, err, domainchat.ErrNotFound)
}

func TestDeleteConversationDropsAllRows(t *testing.T) {
	store := NewChatStore(nil)
	conversation := createConversation(t, store, "front desk", "alice")
	_, err := store.InsertMessage(context.Background(), conversation.ID, "alice", "hi", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.DeleteConversation(context.Background(), conversation.ID))
	require.ErrorIs(t, store.DeleteConversation(context.Background(), conversation.ID), domainchat.ErrNotFound)

	_, err = store.Conversation(context.Background(), conversation.ID)
	require.ErrorIs(t, err, domainchat.ErrNotFound)
	list, err := store.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestProfileRoundTrip(t *testing.T) {
	store := NewChatStore(nil)

	require.ErrorIs(t, store.SaveProfile(context.Background(), &domainchat.Profile{}), domainuser.ErrIDRequired)

	profile := &domainchat.Profile{ID: "alice", Name: "Alice", Role: "doctor", BranchIDs: []string{"b1"}}
	require.NoError(t, store.SaveProfile(context.Background(), profile))

	// Mutating the caller's copy must not leak into the store.
	profile.Name = "changed"
	stored, err := store.Profile(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", stored.Name)

	_, err = store.Profile(context.Background(), "ghost")
	require.ErrorIs(t, err, domainchat.ErrProfileNotFound)

	conversation := createConversation(t, store, "front desk", "alice")
	members, err := store.Members(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.NotNil(t, members[0].Profile)
	require.Equal(t, "Alice", members[0].Profile.Name)
}
