package ginserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"clinix/internal/app/dto"
	authsvc "clinix/internal/app/services/auth"
	domainuser "clinix/internal/domain/user"
)

type AdminHTTP interface {
	ListUsers(c *gin.Context)
	CreateUser(c *gin.Context)
}

type AdminHandler struct {
	Users   domainuser.Repository
	Service *authsvc.Service
	Logger  *slog.Logger
}

func (h AdminHandler) ListUsers(c *gin.Context) {
	p, ok := requireRole(c, "admin")
	if !ok || p.ID == "" {
		return
	}
	if h.Users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "user repository unavailable"})
		return
	}

	limit := parseIntWithDefault(c.Query("limit"), 50)
	offset := parseIntWithDefault(c.Query("offset"), 0)
	users, total, err := h.Users.List(c.Request.Context(), domainuser.ListParams{
		Query:  c.Query("query"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("list users failed", "error", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot list users"})
		return
	}

	resp := dto.UserList{
		Items: make([]dto.UserProfile, 0, len(users)),
		Total: total,
	}
	for _, user := range users {
		resp.Items = append(resp.Items, dto.MapUserProfile(user))
	}
	c.JSON(http.StatusOK, resp)
}

// CreateUser provisions a clinic account with a role and branch assignments.
// The new user also gets a chat profile so the roster picks them up.
func (h AdminHandler) CreateUser(c *gin.Context) {
	if _, ok := requireRole(c, "admin"); !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth service unavailable"})
		return
	}
	var req struct {
		Email     string   `json:"email"`
		Name      string   `json:"name"`
		Password  string   `json:"password"`
		Role      string   `json:"role"`
		BranchIDs []string `json:"branch_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.Service.CreateUser(c.Request.Context(), authsvc.CreateUserParams{
		Email:     strings.TrimSpace(req.Email),
		Name:      req.Name,
		Password:  req.Password,
		Role:      domainuser.Role(req.Role),
		BranchIDs: req.BranchIDs,
	})
	if err != nil {
		AuthHandler{Logger: h.Logger}.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.MapUserProfile(user))
}

func parseIntWithDefault(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return def
	}
	return value
}

var _ AdminHTTP = (*AdminHandler)(nil)
