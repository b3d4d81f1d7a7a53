package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echocore/internal/chat"
	"github.com/lalith-99/echocore/internal/clock"
	"github.com/lalith-99/echocore/internal/middleware"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/lalith-99/echocore/internal/observ"
	"github.com/lalith-99/echocore/internal/registry"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP layer needs. Hub, Metrics, Limiter
// and Health may be nil.
type Deps struct {
	Manager   *chat.Manager
	Registry  *registry.Store
	Hub       *notify.Hub
	Metrics   *observ.Metrics
	Limiter   *middleware.Limiter
	JWTSecret string
	Health    func(ctx context.Context) error
	Clock     clock.Clock
	Logger    *zap.Logger
}

// NewRouter wires every route. /v1/health and /metrics are public; all
// other /v1 routes require a bearer token.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	srv := gin.New()
	srv.Use(middleware.RequestLogger(d.Logger), gin.Recovery())

	srv.GET("/v1/health", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Metrics != nil {
		srv.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.JWTSecret))
	if d.Limiter != nil {
		v1.Use(middleware.RateLimit(d.Limiter))
	}

	chats := NewChatHandler(d.Manager, d.Logger)
	v1.POST("/chats", chats.Create)
	v1.POST("/direct/:user", chats.Direct)
	v1.GET("/admin/metrics", chats.Metrics)

	c := v1.Group("/chats/:id")
	c.GET("", chats.Summary)
	c.PATCH("", chats.UpdateSettings)
	c.GET("/updates", chats.Updates)
	c.POST("/freeze", chats.Freeze)
	c.DELETE("/freeze", chats.Unfreeze)
	c.PUT("/gate", chats.SetGate)
	c.PUT("/ttl", chats.SetEventsTTL)
	c.PUT("/rules", chats.SetRules)
	c.POST("/rules/accept", chats.AcceptRules)
	c.POST("/invite-code", chats.ResetInviteCode)
	c.DELETE("/invite-code", chats.DisableInviteCode)

	c.POST("/join", chats.Join)
	c.POST("/leave", chats.Leave)
	c.GET("/members", chats.Members)
	c.DELETE("/members/:user", chats.RemoveMember)
	c.PUT("/members/:user/role", chats.ChangeRole)
	c.PUT("/members/:user/mute", chats.SetMuted)
	c.POST("/invitations", chats.Invite)
	c.DELETE("/invitations/:user", chats.RevokeInvitation)
	c.PUT("/blocks/:user", chats.Block)
	c.DELETE("/blocks/:user", chats.Unblock)

	c.POST("/messages", chats.Send)
	c.GET("/messages", chats.Messages)
	c.PUT("/messages/:mi", chats.Edit)
	c.DELETE("/messages/:mi", chats.Delete)
	c.POST("/messages/:mi/undelete", chats.Undelete)
	c.PUT("/messages/:mi/reactions/:reaction", chats.React)
	c.DELETE("/messages/:mi/reactions/:reaction", chats.Unreact)
	c.PUT("/pins/:mi", chats.Pin)
	c.DELETE("/pins/:mi", chats.Unpin)

	c.GET("/events", chats.Events)
	c.GET("/events/window", chats.EventsWindow)
	c.GET("/events/by-index", chats.EventsByIndex)
	if d.Hub != nil {
		c.GET("/ws", chats.Watch(d.Hub))
	}

	if d.Registry != nil {
		reg := NewRegistryHandler(d.Registry, d.Clock, d.Logger)
		v1.GET("/me/registry", reg.Updates)
		v1.POST("/me/direct/:user/read", reg.MarkRead)
		v1.DELETE("/me/direct/:user", reg.RemoveDirect)
		v1.PUT("/me/pinned-direct/:chat", reg.PinDirect)
		v1.DELETE("/me/pinned-direct/:chat", reg.UnpinDirect)
	}

	return srv
}
