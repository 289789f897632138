package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"clinix/internal/infra/bridge"
)

type BridgeHTTP interface {
	Status(c *gin.Context)
	Chats(c *gin.Context)
	ChatMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	Logout(c *gin.Context)
}

type BridgeHandler struct {
	Client *bridge.Client
	Logger *slog.Logger
}

func (h BridgeHandler) Status(c *gin.Context) {
	if _, ok := requireRole(c, ""); !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "whatsapp bridge unavailable"})
		return
	}
	state := h.Client.State()
	c.JSON(http.StatusOK, gin.H{
		"connected":  state.Connected,
		"qr":         state.QR,
		"last_error": state.LastError,
	})
}

func (h BridgeHandler) Chats(c *gin.Context) {
	if _, ok := requireRole(c, ""); !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "whatsapp bridge unavailable"})
		return
	}
	if err := h.Client.RequestChats(); err != nil {
		h.respondBridgeError(c, err, "request chats")
		return
	}
	state := h.Client.State()
	c.JSON(http.StatusOK, gin.H{"items": state.Chats})
}

func (h BridgeHandler) ChatMessages(c *gin.Context) {
	if _, ok := requireRole(c, ""); !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "whatsapp bridge unavailable"})
		return
	}
	chatID := strings.TrimSpace(c.Param("id"))
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat id required"})
		return
	}
	if err := h.Client.RequestChatMessages(chatID); err != nil {
		h.respondBridgeError(c, err, "request chat messages")
		return
	}
	state := h.Client.State()
	c.JSON(http.StatusOK, gin.H{"chat_id": state.ChatID, "items": state.Messages})
}

func (h BridgeHandler) SendMessage(c *gin.Context) {
	if _, ok := requireRole(c, ""); !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "whatsapp bridge unavailable"})
		return
	}
	var req struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	req.Text = strings.TrimSpace(req.Text)
	if req.ChatID == "" || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id and text are required"})
		return
	}
	if err := h.Client.SendMessage(req.ChatID, req.Text); err != nil {
		h.respondBridgeError(c, err, "send whatsapp message")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h BridgeHandler) Logout(c *gin.Context) {
	if _, ok := requireRole(c, "admin"); !ok {
		return
	}
	if h.Client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "whatsapp bridge unavailable"})
		return
	}
	if err := h.Client.Logout(); err != nil {
		h.respondBridgeError(c, err, "logout whatsapp")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h BridgeHandler) respondBridgeError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, bridge.ErrNotConnected), errors.Is(err, bridge.ErrNoURL):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "whatsapp bridge unavailable"})
	default:
		if h.Logger != nil {
			h.Logger.Error("bridge call failed", "action", action, "error", err)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "whatsapp bridge error"})
	}
}

var _ BridgeHTTP = (*BridgeHandler)(nil)
