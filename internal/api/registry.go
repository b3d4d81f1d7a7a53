package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echocore/internal/clock"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/middleware"
	"github.com/lalith-99/echocore/internal/registry"
	"go.uber.org/zap"
)

// RegistryHandler serves the caller's own direct-chat and joined-group
// registry.
type RegistryHandler struct {
	store  *registry.Store
	clock  clock.Clock
	logger *zap.Logger
}

func NewRegistryHandler(store *registry.Store, clk clock.Clock, logger *zap.Logger) *RegistryHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &RegistryHandler{store: store, clock: clk, logger: logger.Named("api")}
}

// Updates handles GET /v1/me/registry?since=<RFC 3339>. Without since
// the whole registry is returned; with since and no changes, 204.
func (h *RegistryHandler) Updates(c *gin.Context) {
	since, ok := queryTime(c, "since")
	if !ok {
		return
	}
	var (
		updates registry.Updates
		changed bool
	)
	err := h.store.View(c.Request.Context(), middleware.GetUserID(c), func(u *registry.User) error {
		var from time.Time
		if since != nil {
			from = *since
		}
		updates, changed = u.Updates(from)
		return nil
	})
	if err != nil {
		writeError(c, h.logger, "read registry", err)
		return
	}
	if !changed {
		if since != nil {
			c.Status(http.StatusNoContent)
			return
		}
		updates = registry.Updates{
			DirectChats: []registry.DirectChat{},
			Groups:      []registry.Group{},
		}
	}
	c.JSON(http.StatusOK, updates)
}

type markReadRequest struct {
	UpTo events.MessageIndex `json:"up_to"`
}

// MarkRead handles POST /v1/me/direct/:user/read
func (h *RegistryHandler) MarkRead(c *gin.Context) {
	them, ok := uuidParam(c, "user")
	if !ok {
		return
	}
	req, ok := bind[markReadRequest](c)
	if !ok {
		return
	}
	var moved bool
	err := h.store.Update(c.Request.Context(), middleware.GetUserID(c), func(u *registry.User) error {
		var err error
		moved, err = u.Direct.MarkReadUpTo(them, req.UpTo, h.clock.Now())
		return err
	})
	if err != nil {
		writeError(c, h.logger, "mark read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": moved})
}

// RemoveDirect handles DELETE /v1/me/direct/:user
func (h *RegistryHandler) RemoveDirect(c *gin.Context) {
	them, ok := uuidParam(c, "user")
	if !ok {
		return
	}
	err := h.store.Update(c.Request.Context(), middleware.GetUserID(c), func(u *registry.User) error {
		if !u.Direct.Remove(them, h.clock.Now()) {
			return registry.ErrChatNotFound
		}
		return nil
	})
	if err != nil {
		writeError(c, h.logger, "remove direct chat", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PinDirect handles PUT /v1/me/pinned-direct/:chat
func (h *RegistryHandler) PinDirect(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat")
	if !ok {
		return
	}
	err := h.store.Update(c.Request.Context(), middleware.GetUserID(c), func(u *registry.User) error {
		return u.Direct.Pin(chatID, h.clock.Now())
	})
	if err != nil {
		writeError(c, h.logger, "pin direct chat", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnpinDirect handles DELETE /v1/me/pinned-direct/:chat
func (h *RegistryHandler) UnpinDirect(c *gin.Context) {
	chatID, ok := uuidParam(c, "chat")
	if !ok {
		return
	}
	err := h.store.Update(c.Request.Context(), middleware.GetUserID(c), func(u *registry.User) error {
		if !u.Direct.Unpin(chatID, h.clock.Now()) {
			return registry.ErrChatNotFound
		}
		return nil
	})
	if err != nil {
		writeError(c, h.logger, "unpin direct chat", err)
		return
	}
	c.Status(http.StatusNoContent)
}
