package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/chat"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/models"
)

type joinRequest struct {
	InviteCode string `json:"invite_code"`
}

type joinResponse struct {
	Status           chat.JoinStatus   `json:"status"`
	Member           members.Member    `json:"member"`
	LatestEventIndex events.EventIndex `json:"latest_event_index"`
	Admission        []string          `json:"admission"`
}

func admissionTrace(res chat.JoinResult) []string {
	out := make([]string, len(res.Admission))
	for i, s := range res.Admission {
		out[i] = s.String()
	}
	return out
}

// Join handles POST /v1/chats/:id/join. A repeated join answers 200 with
// status already_in_group.
func (h *ChatHandler) Join(c *gin.Context) {
	req, ok := bindOptional[joinRequest](c)
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	res, err := e.Join(c.Request.Context(), chat.JoinArgs{Call: call(c), InviteCode: req.InviteCode})
	if err != nil {
		writeError(c, h.logger, "join chat", err)
		return
	}
	status := http.StatusCreated
	if res.Status == chat.AlreadyInGroup {
		status = http.StatusOK
	}
	c.JSON(status, joinResponse{
		Status:           res.Status,
		Member:           res.Member,
		LatestEventIndex: res.LatestEventIndex,
		Admission:        admissionTrace(res),
	})
}

// Leave handles POST /v1/chats/:id/leave
func (h *ChatHandler) Leave(c *gin.Context) {
	e, ok := h.entity(c)
	if !ok {
		return
	}
	h.respond(c, "leave chat", http.StatusNoContent, nil, e.Leave(c.Request.Context(), call(c)))
}

// Members handles GET /v1/chats/:id/members
func (h *ChatHandler) Members(c *gin.Context) {
	e, ok := h.entity(c)
	if !ok {
		return
	}
	list, err := e.Members(c.Request.Context(), call(c))
	h.respond(c, "list members", http.StatusOK, list, err)
}

type inviteRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" binding:"required,min=1"`
}

// Invite handles POST /v1/chats/:id/invitations and returns the users
// actually invited; existing members and duplicates are skipped.
func (h *ChatHandler) Invite(c *gin.Context) {
	req, ok := bind[inviteRequest](c)
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	invited, err := e.Invite(c.Request.Context(), call(c), req.UserIDs)
	h.respond(c, "invite users", http.StatusOK, gin.H{"invited": invited}, err)
}

// target resolves the chat and the :user path parameter.
func (h *ChatHandler) target(c *gin.Context) (*chat.Entity, uuid.UUID, bool) {
	user, ok := uuidParam(c, "user")
	if !ok {
		return nil, uuid.Nil, false
	}
	e, ok := h.entity(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	return e, user, true
}

// RevokeInvitation handles DELETE /v1/chats/:id/invitations/:user
func (h *ChatHandler) RevokeInvitation(c *gin.Context) {
	e, user, ok := h.target(c)
	if !ok {
		return
	}
	h.respond(c, "revoke invitation", http.StatusNoContent, nil, e.RevokeInvitation(c.Request.Context(), call(c), user))
}

// RemoveMember handles DELETE /v1/chats/:id/members/:user
func (h *ChatHandler) RemoveMember(c *gin.Context) {
	e, user, ok := h.target(c)
	if !ok {
		return
	}
	h.respond(c, "remove member", http.StatusNoContent, nil, e.RemoveMember(c.Request.Context(), call(c), user))
}

// Block handles PUT /v1/chats/:id/blocks/:user
func (h *ChatHandler) Block(c *gin.Context) {
	e, user, ok := h.target(c)
	if !ok {
		return
	}
	h.respond(c, "block user", http.StatusNoContent, nil, e.Block(c.Request.Context(), call(c), user))
}

// Unblock handles DELETE /v1/chats/:id/blocks/:user
func (h *ChatHandler) Unblock(c *gin.Context) {
	e, user, ok := h.target(c)
	if !ok {
		return
	}
	h.respond(c, "unblock user", http.StatusNoContent, nil, e.Unblock(c.Request.Context(), call(c), user))
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

// ChangeRole handles PUT /v1/chats/:id/members/:user/role
func (h *ChatHandler) ChangeRole(c *gin.Context) {
	req, ok := bind[roleRequest](c)
	if !ok {
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, user, ok := h.target(c)
	if !ok {
		return
	}
	h.respond(c, "change role", http.StatusNoContent, nil, e.ChangeRole(c.Request.Context(), call(c), user, role))
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

// SetMuted handles PUT /v1/chats/:id/members/:user/mute
func (h *ChatHandler) SetMuted(c *gin.Context) {
	req, ok := bind[muteRequest](c)
	if !ok {
		return
	}
	e, user, ok := h.target(c)
	if !ok {
		return
	}
	h.respond(c, "mute member", http.StatusNoContent, nil, e.SetMuted(c.Request.Context(), call(c), user, req.Muted))
}
