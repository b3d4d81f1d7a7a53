package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echocore/internal/notify"
	"go.uber.org/zap"
)

// Watch handles GET /v1/chats/:id/ws. Anyone allowed to read the chat
// may watch its activity stream.
func (h *ChatHandler) Watch(hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := h.entity(c)
		if !ok {
			return
		}
		cl := call(c)
		if _, err := e.Summary(c.Request.Context(), cl); err != nil {
			writeError(c, h.logger, "watch chat", err)
			return
		}
		if err := hub.Serve(c.Writer, c.Request, e.ID(), cl.Caller); err != nil {
			// The upgrader has already answered the client.
			h.logger.Debug("websocket upgrade failed", zap.Stringer("chat_id", e.ID()), zap.Error(err))
		}
	}
}
