package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echocore/internal/chat"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/registry"
	"go.uber.org/zap"
)

var (
	notFound = []error{
		chat.ErrChatNotFound,
		events.ErrMessageNotFound,
		events.ErrThreadNotFound,
		registry.ErrChatNotFound,
	}
	forbidden = []error{
		members.ErrNotMember,
		members.ErrBlocked,
		chat.ErrNotAuthorized,
		chat.ErrNotInvited,
		chat.ErrUserMuted,
		chat.ErrRulesNotAccepted,
	}
	conflict = []error{
		chat.ErrChatFrozen,
		chat.ErrChatNotFrozen,
		chat.ErrLastOwner,
		chat.ErrAlreadyPinned,
		chat.ErrNotPinned,
		chat.ErrMessageDeleted,
		chat.ErrMessageNotDeleted,
		chat.ErrNoInviteCode,
		chat.ErrRulesVersion,
		members.ErrAlreadyMember,
		gate.ErrGateChanged,
	}
	badRequest = []error{
		chat.ErrInvalidRequest,
		chat.ErrCannotTargetSelf,
		chat.ErrDirectChat,
		chat.ErrSameParticipant,
		chat.ErrUnsupportedChatKind,
		chat.ErrTooManyPins,
		chat.ErrInvalidInviteCode,
		gate.ErrInvalidGate,
		registry.ErrTooManyPins,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// writeError maps err to a status code and JSON body. Unexpected errors
// are logged and reported without detail.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	var (
		limit   *members.LimitError
		failed  *gate.FailedError
		gateErr *gate.InternalError
		stale   *chat.ReplicaNotUpToDateError
	)
	switch {
	case errors.As(err, &stale):
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"error":        err.Error(),
			"last_updated": stale.LastUpdated.Format(time.RFC3339Nano),
		})
	case errors.As(err, &limit):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "member_limit": limit.Limit})
	case errors.As(err, &failed):
		c.JSON(http.StatusForbidden, gin.H{"error": "access gate check failed", "reason": failed.Reason})
	case errors.As(err, &gateErr):
		logger.Warn("gate check errored", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "access gate check could not be completed"})
	case isAny(err, notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case isAny(err, forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case isAny(err, conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case isAny(err, badRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	case errors.Is(err, chat.ErrEntityStopped), errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
	default:
		logger.Error("request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}
