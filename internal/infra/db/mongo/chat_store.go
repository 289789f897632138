package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "clinix/internal/domain/chat"
	domainuser "clinix/internal/domain/user"
)

// Publisher receives row-insert notifications, typically the realtime hub.
type Publisher interface {
	Publish(event domainchat.Event)
}

type ChatStore struct {
	conversations *mongo.Collection
	memberships   *mongo.Collection
	messages      *mongo.Collection
	profiles      *mongo.Collection
	publisher     Publisher
}

func NewChatStore(db *mongo.Database, publisher Publisher) *ChatStore {
	store := &ChatStore{
		conversations: db.Collection("chats"),
		memberships:   db.Collection("chat_members"),
		messages:      db.Collection("messages"),
		profiles:      db.Collection("profiles"),
		publisher:     publisher,
	}
	ctx := context.Background()
	_, _ = store.memberships.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = store.memberships.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	_, _ = store.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return store
}

func (s *ChatStore) CreateConversation(ctx context.Context, params domainchat.CreateConversationParams) (*domainchat.Conversation, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	doc := conversationDocument{
		ID:          uuid.NewString(),
		Name:        params.Name,
		Description: params.Description,
		CreatedBy:   string(params.CreatedBy),
		CreatedAt:   params.Now.UnixMilli(),
		UpdatedAt:   params.Now.UnixMilli(),
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	for _, id := range params.MemberIDs {
		membership := membershipDocument{
			ChatID:   doc.ID,
			UserID:   string(id),
			JoinedAt: params.Now.UnixMilli(),
		}
		if _, err := s.memberships.InsertOne(ctx, membership); err != nil {
			if !mongo.IsDuplicateKeyError(err) {
				return nil, err
			}
			continue
		}
		s.publish(domainchat.Event{Table: domainchat.TableMemberships, Membership: membership.toDomain()})
	}
	conversation := doc.toDomain()
	return conversation, nil
}

func (s *ChatStore) Conversation(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrNotFound
		}
		return nil, err
	}
	conversation := doc.toDomain()
	last, err := s.lastMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	conversation.LastMessage = last
	return conversation, nil
}

func (s *ChatStore) DeleteConversation(ctx context.Context, id domainchat.ConversationID) error {
	res, err := s.conversations.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domainchat.ErrNotFound
	}
	_, _ = s.memberships.DeleteMany(ctx, bson.M{"chat_id": string(id)})
	_, _ = s.messages.DeleteMany(ctx, bson.M{"chat_id": string(id)})
	return nil
}

func (s *ChatStore) ListConversations(ctx context.Context, userID domainuser.ID) ([]domainchat.Conversation, error) {
	cursor, err := s.memberships.Find(ctx, bson.M{"user_id": string(userID)})
	if err != nil {
		return nil, err
	}
	var rows []membershipDocument
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ChatID)
	}
	result := make([]domainchat.Conversation, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err = s.conversations.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		conversation := doc.toDomain()
		last, err := s.lastMessage(ctx, conversation.ID)
		if err != nil {
			return nil, err
		}
		conversation.LastMessage = last
		result = append(result, *conversation)
	}
	return result, nil
}

func (s *ChatStore) AddMember(ctx context.Context, id domainchat.ConversationID, userID domainuser.ID, now time.Time) (*domainchat.Membership, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = time.Now()
	}
	doc := membershipDocument{ChatID: string(id), UserID: string(userID), JoinedAt: now.UTC().UnixMilli()}
	if _, err := s.memberships.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domainchat.ErrAlreadyMember
		}
		return nil, err
	}
	membership := doc.toDomain()
	s.publish(domainchat.Event{Table: domainchat.TableMemberships, Membership: membership})
	return membership, nil
}

func (s *ChatStore) RemoveMember(ctx context.Context, id domainchat.ConversationID, userID domainuser.ID) error {
	res, err := s.memberships.DeleteOne(ctx, bson.M{"chat_id": string(id), "user_id": string(userID)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domainchat.ErrNotMember
	}
	return nil
}

func (s *ChatStore) Members(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Member, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}})
	cursor, err := s.memberships.Find(ctx, bson.M{"chat_id": string(id)}, opts)
	if err != nil {
		return nil, err
	}
	var rows []membershipDocument
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	result := make([]domainchat.Member, 0, len(rows))
	for _, row := range rows {
		member := domainchat.Member{Membership: *row.toDomain()}
		profile, err := s.Profile(ctx, domainuser.ID(row.UserID))
		if err == nil {
			member.Profile = profile
		} else if !errors.Is(err, domainchat.ErrProfileNotFound) {
			return nil, err
		}
		result = append(result, member)
	}
	return result, nil
}

func (s *ChatStore) InsertMessage(ctx context.Context, id domainchat.ConversationID, authorID domainuser.ID, text string, now time.Time) (*domainchat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domainchat.ErrEmptyMessage
	}
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	count, err := s.memberships.CountDocuments(ctx, bson.M{"chat_id": string(id), "user_id": string(authorID)})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, domainchat.ErrNotMember
	}
	if now.IsZero() {
		now = time.Now()
	}
	doc := messageDocument{
		ID:        uuid.NewString(),
		ChatID:    string(id),
		AuthorID:  string(authorID),
		Text:      text,
		CreatedAt: now.UTC().UnixMilli(),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	_, _ = s.conversations.UpdateByID(ctx, string(id), bson.M{"$max": bson.M{"updated_at": doc.CreatedAt}})
	message := doc.toDomain()
	s.publish(domainchat.Event{Table: domainchat.TableMessages, Message: message})
	return message, nil
}

func (s *ChatStore) Messages(ctx context.Context, id domainchat.ConversationID) ([]domainchat.Message, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"chat_id": string(id)}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]domainchat.Message, 0, len(docs))
	authors := make(map[string]*domainchat.Profile)
	for _, doc := range docs {
		message := doc.toDomain()
		author, seen := authors[doc.AuthorID]
		if !seen {
			author, err = s.Profile(ctx, domainuser.ID(doc.AuthorID))
			if err != nil && !errors.Is(err, domainchat.ErrProfileNotFound) {
				return nil, err
			}
			authors[doc.AuthorID] = author
		}
		message.Author = author
		result = append(result, *message)
	}
	return result, nil
}

func (s *ChatStore) Profile(ctx context.Context, userID domainuser.ID) (*domainchat.Profile, error) {
	var doc profileDocument
	if err := s.profiles.FindOne(ctx, bson.M{"_id": string(userID)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrProfileNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *ChatStore) Profiles(ctx context.Context) ([]domainchat.Profile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := s.profiles.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []profileDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]domainchat.Profile, 0, len(docs))
	for _, doc := range docs {
		result = append(result, *doc.toDomain())
	}
	return result, nil
}

func (s *ChatStore) SaveProfile(ctx context.Context, profile *domainchat.Profile) error {
	if profile == nil || strings.TrimSpace(string(profile.ID)) == "" {
		return domainuser.ErrIDRequired
	}
	doc := profileDocument{
		ID:        string(profile.ID),
		Name:      profile.Name,
		AvatarURL: profile.AvatarURL,
		Role:      profile.Role,
		BranchIDs: append([]string(nil), profile.BranchIDs...),
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	return err
}

func (s *ChatStore) mustExist(ctx context.Context, id domainchat.ConversationID) error {
	count, err := s.conversations.CountDocuments(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if count == 0 {
		return domainchat.ErrNotFound
	}
	return nil
}

func (s *ChatStore) lastMessage(ctx context.Context, id domainchat.ConversationID) (*domainchat.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc messageDocument
	err := s.messages.FindOne(ctx, bson.M{"chat_id": string(id)}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	message := doc.toDomain()
	author, err := s.Profile(ctx, message.AuthorID)
	if err == nil {
		message.Author = author
	} else if !errors.Is(err, domainchat.ErrProfileNotFound) {
		return nil, err
	}
	return message, nil
}

func (s *ChatStore) publish(event domainchat.Event) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

type conversationDocument struct {
	ID          string `bson:"_id"`
	Name        string `bson:"name"`
	Description string `bson:"description"`
	CreatedBy   string `bson:"created_by"`
	CreatedAt   int64  `bson:"created_at"`
	UpdatedAt   int64  `bson:"updated_at"`
}

func (d conversationDocument) toDomain() *domainchat.Conversation {
	return &domainchat.Conversation{
		ID:          domainchat.ConversationID(d.ID),
		Name:        d.Name,
		Description: d.Description,
		CreatedBy:   domainuser.ID(d.CreatedBy),
		CreatedAt:   timestampToTime(d.CreatedAt),
		UpdatedAt:   timestampToTime(d.UpdatedAt),
	}
}

type membershipDocument struct {
	ChatID   string `bson:"chat_id"`
	UserID   string `bson:"user_id"`
	JoinedAt int64  `bson:"joined_at"`
}

func (d membershipDocument) toDomain() *domainchat.Membership {
	return &domainchat.Membership{
		ConversationID: domainchat.ConversationID(d.ChatID),
		UserID:         domainuser.ID(d.UserID),
		JoinedAt:       timestampToTime(d.JoinedAt),
	}
}

type messageDocument struct {
	ID        string `bson:"_id"`
	ChatID    string `bson:"chat_id"`
	AuthorID  string `bson:"author_id"`
	Text      string `bson:"text"`
	CreatedAt int64  `bson:"created_at"`
}

func (d messageDocument) toDomain() *domainchat.Message {
	return &domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ChatID),
		AuthorID:       domainuser.ID(d.AuthorID),
		Text:           d.Text,
		CreatedAt:      timestampToTime(d.CreatedAt),
	}
}

type profileDocument struct {
	ID        string   `bson:"_id"`
	Name      string   `bson:"name"`
	AvatarURL string   `bson:"avatar_url"`
	Role      string   `bson:"role"`
	BranchIDs []string `bson:"branch_ids"`
}

func (d profileDocument) toDomain() *domainchat.Profile {
	return &domainchat.Profile{
		ID:        domainuser.ID(d.ID),
		Name:      d.Name,
		AvatarURL: d.AvatarURL,
		Role:      d.Role,
		BranchIDs: append([]string(nil), d.BranchIDs...),
	}
}

var _ domainchat.Store = (*ChatStore)(nil)
