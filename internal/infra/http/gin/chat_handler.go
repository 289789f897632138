package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"clinix/internal/app/dto"
	chatsvc "clinix/internal/app/services/chat"
	domainchat "clinix/internal/domain/chat"
	domainuser "clinix/internal/domain/user"
)

// ChatHTTP exposes conversation endpoints.
type ChatHTTP interface {
	ListConversations(c *gin.Context)
	CreateConversation(c *gin.Context)
	DeleteConversation(c *gin.Context)
	OpenConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	AddMember(c *gin.Context)
	RemoveMember(c *gin.Context)
	ListProfiles(c *gin.Context)
}

// ChatHandler drives the per-user chat session service.
type ChatHandler struct {
	Service *chatsvc.Service
	Logger  *slog.Logger
}

func (h ChatHandler) session(c *gin.Context) (*chatsvc.Session, principal, bool) {
	p, ok := requireRole(c, "")
	if !ok {
		return nil, principal{}, false
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return nil, principal{}, false
	}
	session, err := h.Service.Session(c.Request.Context(), domainuser.ID(p.ID))
	if err != nil {
		h.respondChatError(c, err, "open session", "user_id", p.ID)
		return nil, principal{}, false
	}
	return session, p, true
}

// ListConversations returns the session's directory cache after a refresh,
// so the listing reflects the store even if a live update was dropped.
func (h ChatHandler) ListConversations(c *gin.Context) {
	session, p, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.Refresh(c.Request.Context()); err != nil {
		h.respondChatError(c, err, "refresh directory", "user_id", p.ID)
		return
	}
	directory := session.Directory()
	items := make([]dto.Conversation, 0, len(directory))
	for i := range directory {
		items = append(items, dto.NewConversation(&directory[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h ChatHandler) CreateConversation(c *gin.Context) {
	session, p, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		MemberIDs   []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	members := make([]domainuser.ID, 0, len(req.MemberIDs))
	for _, id := range req.MemberIDs {
		members = append(members, domainuser.ID(id))
	}
	conversation, err := session.CreateConversation(c.Request.Context(), req.Name, req.Description, members)
	if err != nil {
		h.respondChatError(c, err, "create conversation", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, dto.NewConversation(conversation))
}

func (h ChatHandler) DeleteConversation(c *gin.Context) {
	session, p, ok := h.session(c)
	if !ok {
		return
	}
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	if err := session.DeleteConversation(c.Request.Context(), id); err != nil {
		h.respondChatError(c, err, "delete conversation", "conversation_id", id, "user_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

// OpenConversation switches the session's active conversation and returns
// the snapshot: metadata, ordered messages and the member list.
func (h ChatHandler) OpenConversation(c *gin.Context) {
	session, p, ok := h.session(c)
	if !ok {
		return
	}
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	if err := session.Open(c.Request.Context(), id); err != nil {
		h.respondChatError(c, err, "open conversation", "conversation_id", id, "user_id", p.ID)
		return
	}
	active := session.Active()
	if active == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation closed concurrently"})
		return
	}
	history := session.Messages()
	memberList := session.Members()
	detail := dto.ConversationDetail{
		Conversation: dto.NewConversation(active),
		Messages:     make([]dto.ChatMessage, 0, len(history)),
		Members:      make([]dto.ChatMember, 0, len(memberList)),
	}
	for _, message := range history {
		detail.Messages = append(detail.Messages, dto.NewChatMessage(message))
	}
	for _, member := range memberList {
		detail.Members = append(detail.Members, dto.NewChatMember(member))
	}
	c.JSON(http.StatusOK, detail)
}

// ListMessages returns the ordered history of a conversation. Opening is a
// no-op when the conversation is already active, so polling this endpoint is
// cheap after the first call.
func (h ChatHandler) ListMessages(c *gin.Context) {
	session, p, ok := h.session(c)
	if !ok {
		return
	}
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	if err := session.Open(c.Request.Context(), id); err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", id, "user_id", p.ID)
		return
	}
	history := session.Messages()
	items := make([]dto.ChatMessage, 0, len(history))
	for _, message := range history {
		items = append(items, dto.NewChatMessage(message))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	session, p, ok := h.session(c)
	if !ok {
		return
	}
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := session.Send(c.Request.Context(), id, req.Text); err != nil {
		h.respondChatError(c, err, "send message", "conversation_id", id, "user_id", p.ID)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h ChatHandler) AddMember(c *gin.Context) {
	session, p, ok := h.session(c)
	if !ok {
		return
	}
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if err := session.AddMember(c.Request.Context(), id, domainuser.ID(req.UserID)); err != nil {
		h.respondChatError(c, err, "add member", "conversation_id", id, "user_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) RemoveMember(c *gin.Context) {
	session, p, ok := h.session(c)
	if !ok {
		return
	}
	id := domainchat.ConversationID(strings.TrimSpace(c.Param("id")))
	memberID := strings.TrimSpace(c.Param("userId"))
	if id == "" || memberID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id and user id are required"})
		return
	}
	if err := session.RemoveMember(c.Request.Context(), id, domainuser.ID(memberID)); err != nil {
		h.respondChatError(c, err, "remove member", "conversation_id", id, "user_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListProfiles returns every chat profile for member pickers.
func (h ChatHandler) ListProfiles(c *gin.Context) {
	_, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	profiles, err := h.Service.Profiles(c.Request.Context())
	if err != nil {
		h.respondChatError(c, err, "list profiles")
		return
	}
	items := make([]dto.ChatProfile, 0, len(profiles))
	for _, profile := range profiles {
		items = append(items, dto.NewChatProfile(profile))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, domainchat.ErrNotFound), errors.Is(err, domainchat.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domainchat.ErrNotCreator):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the creator can delete the conversation"})
	case errors.Is(err, domainchat.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
	case errors.Is(err, domainchat.ErrEmptyMessage),
		errors.Is(err, domainchat.ErrNameRequired),
		errors.Is(err, domainchat.ErrAlreadyMember):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chatsvc.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "chat session closed"})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat call failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

var _ ChatHTTP = (*ChatHandler)(nil)
