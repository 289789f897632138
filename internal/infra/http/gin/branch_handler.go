package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"clinix/internal/app/dto"
	domainbranch "clinix/internal/domain/branch"
)

type BranchHTTP interface {
	List(c *gin.Context)
	Create(c *gin.Context)
	Update(c *gin.Context)
	Delete(c *gin.Context)
}

// BranchHandler manages clinic branches. Reads are open to any signed-in
// user; writes are admin only.
type BranchHandler struct {
	Branches domainbranch.Repository
	Logger   *slog.Logger
}

func (h BranchHandler) List(c *gin.Context) {
	if _, ok := requireRole(c, ""); !ok {
		return
	}
	if h.Branches == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "branch repository unavailable"})
		return
	}
	branches, err := h.Branches.List(c.Request.Context())
	if err != nil {
		h.respondBranchError(c, err)
		return
	}
	resp := dto.BranchList{Items: make([]dto.Branch, 0, len(branches))}
	for _, branch := range branches {
		resp.Items = append(resp.Items, dto.NewBranch(branch))
	}
	c.JSON(http.StatusOK, resp)
}

func (h BranchHandler) Create(c *gin.Context) {
	if _, ok := requireRole(c, "admin"); !ok {
		return
	}
	if h.Branches == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "branch repository unavailable"})
		return
	}
	var req struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	branch, err := domainbranch.New(domainbranch.CreateParams{
		ID:      req.ID,
		Name:    req.Name,
		Address: req.Address,
		Now:     time.Now(),
	})
	if err != nil {
		h.respondBranchError(c, err)
		return
	}
	if err := h.Branches.Create(c.Request.Context(), branch); err != nil {
		h.respondBranchError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewBranch(*branch))
}

// Update renames a branch or changes its address. The id is immutable.
func (h BranchHandler) Update(c *gin.Context) {
	if _, ok := requireRole(c, "admin"); !ok {
		return
	}
	if h.Branches == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "branch repository unavailable"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "branch id is required"})
		return
	}
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	branch, err := h.Branches.ByID(c.Request.Context(), id)
	if err != nil {
		h.respondBranchError(c, err)
		return
	}
	if err := branch.Update(req.Name, req.Address, time.Now()); err != nil {
		h.respondBranchError(c, err)
		return
	}
	if err := h.Branches.Save(c.Request.Context(), branch); err != nil {
		h.respondBranchError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewBranch(*branch))
}

func (h BranchHandler) Delete(c *gin.Context) {
	if _, ok := requireRole(c, "admin"); !ok {
		return
	}
	if h.Branches == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "branch repository unavailable"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "branch id is required"})
		return
	}
	if err := h.Branches.Delete(c.Request.Context(), id); err != nil {
		h.respondBranchError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h BranchHandler) respondBranchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domainbranch.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "branch not found"})
	case errors.Is(err, domainbranch.ErrAlreadyExist):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domainbranch.ErrIDRequired), errors.Is(err, domainbranch.ErrNameRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if h.Logger != nil {
			h.Logger.Error("branch operation failed", "error", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

var _ BranchHTTP = (*BranchHandler)(nil)
