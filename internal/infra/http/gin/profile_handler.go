package ginserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clinix/internal/app/dto"
	chatsvc "clinix/internal/app/services/chat"
	domainuser "clinix/internal/domain/user"
	"clinix/internal/infra/storage/s3"
)

const maxAvatarSizeBytes = 5 << 20

type ProfileHTTP interface {
	UpdateProfile(c *gin.Context)
	UploadAvatar(c *gin.Context)
}

// ProfileHandler manages the signed-in user's display name and avatar. Both
// writes go to the user record and its chat profile projection.
type ProfileHandler struct {
	Users    domainuser.Repository
	Chat     *chatsvc.Service
	Uploader s3.Uploader
	Logger   *slog.Logger
}

func (h ProfileHandler) UpdateProfile(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "user repository unavailable"})
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.Users.ByID(c.Request.Context(), domainuser.ID(p.ID))
	if err != nil {
		h.respondProfileError(c, err)
		return
	}
	if err := user.UpdateName(req.Name, time.Now()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Users.Save(c.Request.Context(), user); err != nil {
		h.respondProfileError(c, err)
		return
	}
	h.syncChatProfile(c, user)
	c.JSON(http.StatusOK, dto.MapUserProfile(user))
}

func (h ProfileHandler) UploadAvatar(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Users == nil || h.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "avatar upload unavailable"})
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size <= 0 || fileHeader.Size > maxAvatarSizeBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file must be between 1 byte and %d MB", maxAvatarSizeBytes/1024/1024)})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAvatarSizeBytes+1024))
	if err != nil || len(data) == 0 || int64(len(data)) > maxAvatarSizeBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	contentType := http.DetectContentType(data)
	if !isAllowedImageType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported content type: %s", contentType)})
		return
	}

	key := avatarObjectKey(p.ID, fileHeader.Filename, contentType)
	url, err := h.Uploader.Upload(c.Request.Context(), key, bytes.NewReader(data), contentType)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("avatar upload failed", "error", err, "user_id", p.ID)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "avatar upload failed"})
		return
	}

	user, err := h.Users.ByID(c.Request.Context(), domainuser.ID(p.ID))
	if err != nil {
		h.respondProfileError(c, err)
		return
	}
	user.SetAvatarURL(url, time.Now())
	if err := h.Users.Save(c.Request.Context(), user); err != nil {
		h.respondProfileError(c, err)
		return
	}
	h.syncChatProfile(c, user)
	c.JSON(http.StatusCreated, gin.H{"avatar_url": url})
}

func (h ProfileHandler) syncChatProfile(c *gin.Context, user *domainuser.User) {
	if h.Chat == nil {
		return
	}
	if _, err := h.Chat.UpdateProfile(c.Request.Context(), user.ID, user.Name, user.AvatarURL); err != nil && h.Logger != nil {
		h.Logger.Warn("chat profile sync failed", "error", err, "user_id", user.ID)
	}
}

func (h ProfileHandler) respondProfileError(c *gin.Context, err error) {
	if errors.Is(err, domainuser.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if h.Logger != nil {
		h.Logger.Error("profile operation failed", "error", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func avatarObjectKey(userID, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		switch contentType {
		case "image/png":
			ext = ".png"
		case "image/webp":
			ext = ".webp"
		default:
			ext = ".jpg"
		}
	}
	return fmt.Sprintf("avatars/%s/%s%s", userID, uuid.NewString(), ext)
}

func isAllowedImageType(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
		return true
	default:
		return false
	}
}

var _ ProfileHTTP = (*ProfileHandler)(nil)
