package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"clinix/internal/app/services/auth"
	domainauth "clinix/internal/domain/auth"
)

const principalContextKey = "clinix.principal"

// principal is the signed-in user as seen by handlers. It is attached to the
// gin context by AuthMiddleware and absent for anonymous requests.
type principal struct {
	ID        string
	Email     string
	Name      string
	Role      string
	BranchIDs []string
	Token     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p principal) HasRole(role string) bool {
	want := strings.ToLower(strings.TrimSpace(role))
	return want != "" && strings.EqualFold(p.Role, want)
}

// AuthMiddleware resolves bearer tokens into principals. It never rejects a
// request itself; handlers decide via requireRole what each route demands.
type AuthMiddleware struct {
	Service *auth.Service
	Logger  *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	defer c.Next()
	if m.Service == nil {
		return
	}
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		return
	}
	resolved, err := m.Service.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if m.Logger != nil && !errors.Is(err, domainauth.ErrSessionNotFound) {
			m.Logger.Debug("token resolve failed", "error", err)
		}
		return
	}
	u := resolved.User
	c.Set(principalContextKey, principal{
		ID:        string(u.ID),
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		BranchIDs: append([]string(nil), u.BranchIDs...),
		Token:     token,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	})
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, ok := c.Get(principalContextKey)
	if !ok {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

// requireRole aborts with 401 when nobody is signed in and 403 when the
// principal lacks the role. An empty role admits any signed-in user.
func requireRole(c *gin.Context, role string) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	if role != "" && !p.HasRole(role) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		return principal{}, false
	}
	return p, true
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
