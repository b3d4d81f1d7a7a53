package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/chat"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/middleware"
	"go.uber.org/zap"
)

const correlationHeader = "X-Correlation-ID"

// ChatHandler serves every per-chat route. Each request is forwarded to
// the chat's entity, which serializes it with all other commands.
type ChatHandler struct {
	manager *chat.Manager
	logger  *zap.Logger
}

func NewChatHandler(manager *chat.Manager, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{manager: manager, logger: logger.Named("api")}
}

// call builds the caller identity from the JWT claims.
func call(c *gin.Context) chat.Call {
	cid, _ := strconv.ParseUint(c.GetHeader(correlationHeader), 10, 64)
	return chat.Call{
		Caller:            middleware.GetUserID(c),
		PlatformModerator: middleware.IsPlatformModerator(c),
		CorrelationID:     cid,
	}
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func messageIndexParam(c *gin.Context, name string) (events.MessageIndex, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return events.MessageIndex(n), true
}

// thread reads the optional ?thread= root.
func thread(c *gin.Context) (*events.MessageIndex, bool) {
	raw := c.Query("thread")
	if raw == "" {
		return nil, true
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'thread' parameter"})
		return nil, false
	}
	root := events.MessageIndex(n)
	return &root, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid '" + name + "' parameter"})
		return 0, false
	}
	return n, true
}

func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid '" + name + "' parameter, expected RFC 3339"})
		return nil, false
	}
	return &t, true
}

// entity resolves :id to a loaded chat.
func (h *ChatHandler) entity(c *gin.Context) (*chat.Entity, bool) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return nil, false
	}
	e, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "load chat", err)
		return nil, false
	}
	return e, true
}

// bind decodes the JSON body into req, answering 400 on failure.
func bind[T any](c *gin.Context) (T, bool) {
	var req T
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}

// bindOptional is bind for routes whose body may be omitted.
func bindOptional[T any](c *gin.Context) (T, bool) {
	if c.Request.ContentLength == 0 {
		var zero T
		return zero, true
	}
	return bind[T](c)
}

// respond writes err, or status with body when err is nil. A nil body
// sends no content.
func (h *ChatHandler) respond(c *gin.Context, op string, status int, body any, err error) {
	if err != nil {
		writeError(c, h.logger, op, err)
		return
	}
	if body == nil {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}
