package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"clinix/internal/infra/config"
	"clinix/internal/infra/obs"
)

type Handlers struct {
	Auth           AuthHTTP
	Chat           ChatHTTP
	Admin          AdminHTTP
	Profile        ProfileHTTP
	Branch         BranchHTTP
	Mail           MailHTTP
	Bridge         BridgeHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.AccessLog())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", mailTokenHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Auth != nil {
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/logout", h.Auth.Logout)
		api.GET("/auth/me", h.Auth.Me)
	}
	if h.Chat != nil {
		chatGroup := api.Group("/chat")
		chatGroup.GET("/conversations", h.Chat.ListConversations)
		chatGroup.POST("/conversations", h.Chat.CreateConversation)
		chatGroup.DELETE("/conversations/:id", h.Chat.DeleteConversation)
		chatGroup.POST("/conversations/:id/open", h.Chat.OpenConversation)
		chatGroup.GET("/conversations/:id/messages", h.Chat.ListMessages)
		chatGroup.POST("/conversations/:id/messages", h.Chat.SendMessage)
		chatGroup.POST("/conversations/:id/members", h.Chat.AddMember)
		chatGroup.DELETE("/conversations/:id/members/:userId", h.Chat.RemoveMember)
		chatGroup.GET("/users", h.Chat.ListProfiles)
	}
	if h.Profile != nil {
		api.PUT("/users/me/profile", h.Profile.UpdateProfile)
		api.POST("/users/me/avatar", h.Profile.UploadAvatar)
	}
	if h.Branch != nil {
		branchGroup := api.Group("/settings/branches")
		branchGroup.GET("", h.Branch.List)
		branchGroup.POST("", h.Branch.Create)
		branchGroup.PUT("/:id", h.Branch.Update)
		branchGroup.DELETE("/:id", h.Branch.Delete)
	}
	if h.Admin != nil {
		api.GET("/admin/users", h.Admin.ListUsers)
		api.POST("/admin/users", h.Admin.CreateUser)
	}
	if h.Mail != nil {
		mailGroup := api.Group("/mail")
		mailGroup.GET("/account", h.Mail.Account)
		mailGroup.GET("/messages", h.Mail.ListSent)
		mailGroup.GET("/messages/:id", h.Mail.Message)
		mailGroup.POST("/messages", h.Mail.Send)
	}
	if h.Bridge != nil {
		waGroup := api.Group("/whatsapp")
		waGroup.GET("/status", h.Bridge.Status)
		waGroup.GET("/chats", h.Bridge.Chats)
		waGroup.GET("/chats/:id/messages", h.Bridge.ChatMessages)
		waGroup.POST("/messages", h.Bridge.SendMessage)
		waGroup.POST("/logout", h.Bridge.Logout)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
