package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"clinix/internal/app/dto"
	"clinix/internal/infra/mail"
)

// mailTokenHeader carries the user's Gmail OAuth access token. The token is
// obtained client-side and never persisted here.
const mailTokenHeader = "X-Mail-Token"

type MailHTTP interface {
	Send(c *gin.Context)
	ListSent(c *gin.Context)
	Message(c *gin.Context)
	Account(c *gin.Context)
}

type MailHandler struct {
	Client *mail.Client
	Logger *slog.Logger
}

func (h MailHandler) Send(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mail unavailable"})
		return
	}
	token := strings.TrimSpace(c.GetHeader(mailTokenHeader))
	var req struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
		HTML    bool   `json:"html"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id, err := h.Client.Send(c.Request.Context(), token, mail.OutgoingMessage{
		To:      strings.TrimSpace(req.To),
		Subject: req.Subject,
		Body:    req.Body,
		HTML:    req.HTML,
	})
	if err != nil {
		h.respondMailError(c, err, "send mail", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h MailHandler) ListSent(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mail unavailable"})
		return
	}
	token := strings.TrimSpace(c.GetHeader(mailTokenHeader))
	limit := 20
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			limit = value
		}
	}
	messages, err := h.Client.ListSent(c.Request.Context(), token, limit)
	if err != nil {
		h.respondMailError(c, err, "list sent mail", "user_id", p.ID)
		return
	}
	resp := dto.MailMessageList{Items: make([]dto.MailMessage, 0, len(messages))}
	for _, message := range messages {
		resp.Items = append(resp.Items, dto.NewMailMessage(message))
	}
	c.JSON(http.StatusOK, resp)
}

func (h MailHandler) Message(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mail unavailable"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id is required"})
		return
	}
	token := strings.TrimSpace(c.GetHeader(mailTokenHeader))
	message, err := h.Client.Get(c.Request.Context(), token, id)
	if err != nil {
		h.respondMailError(c, err, "fetch mail message", "user_id", p.ID, "message_id", id)
		return
	}
	c.JSON(http.StatusOK, dto.NewMailMessage(*message))
}

func (h MailHandler) Account(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mail unavailable"})
		return
	}
	token := strings.TrimSpace(c.GetHeader(mailTokenHeader))
	account, err := h.Client.Profile(c.Request.Context(), token)
	if err != nil {
		h.respondMailError(c, err, "resolve mail account", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MailAccount{Email: account.Email, Name: account.Name, Picture: account.Picture})
}

func (h MailHandler) respondMailError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, mail.ErrTokenRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "mail token required"})
	case errors.Is(err, mail.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "mail token rejected"})
	default:
		if h.Logger != nil {
			h.Logger.Error("mail call failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "mail unavailable"})
	}
}

var _ MailHTTP = (*MailHandler)(nil)
