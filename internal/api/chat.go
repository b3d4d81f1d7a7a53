package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echocore/internal/chat"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/models"
)

type createChatRequest struct {
	Name                       string           `json:"name" binding:"required"`
	Kind                       models.ChatKind  `json:"kind"`
	Public                     bool             `json:"public"`
	HistoryVisibleToNewJoiners *bool            `json:"history_visible_to_new_joiners"`
	MemberLimit                *int             `json:"member_limit"`
	EventsTTL                  *string          `json:"events_ttl"`
	Rules                      *models.Rules    `json:"rules"`
	Gate                       *gate.AccessGate `json:"gate"`
}

func parseTTL(raw *string) (*time.Duration, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return nil, fmt.Errorf("%w: events_ttl: %v", chat.ErrInvalidRequest, err)
	}
	return &d, nil
}

// Create handles POST /v1/chats
func (h *ChatHandler) Create(c *gin.Context) {
	req, ok := bind[createChatRequest](c)
	if !ok {
		return
	}
	if req.Kind == "" {
		req.Kind = models.ChatKindGroup
	}
	ttl, err := parseTTL(req.EventsTTL)
	if err != nil {
		writeError(c, h.logger, "create chat", err)
		return
	}

	cl := call(c)
	e, err := h.manager.CreateGroup(c.Request.Context(), chat.CreateArgs{
		Creator:                    cl.Caller,
		CorrelationID:              cl.CorrelationID,
		Kind:                       req.Kind,
		Name:                       req.Name,
		Public:                     req.Public,
		HistoryVisibleToNewJoiners: req.HistoryVisibleToNewJoiners,
		MemberLimit:                req.MemberLimit,
		EventsTTL:                  ttl,
		Rules:                      req.Rules,
		Gate:                       req.Gate,
	})
	if err != nil {
		writeError(c, h.logger, "create chat", err)
		return
	}
	summary, err := e.Summary(c.Request.Context(), cl)
	h.respond(c, "create chat", http.StatusCreated, summary, err)
}

// Direct handles POST /v1/direct/:user, returning the direct chat between
// the caller and :user and creating it on first use.
func (h *ChatHandler) Direct(c *gin.Context) {
	other, ok := uuidParam(c, "user")
	if !ok {
		return
	}
	cl := call(c)
	e, err := h.manager.Direct(c.Request.Context(), cl.Caller, other)
	if err != nil {
		writeError(c, h.logger, "open direct chat", err)
		return
	}
	summary, err := e.Summary(c.Request.Context(), cl)
	h.respond(c, "open direct chat", http.StatusOK, summary, err)
}

// Summary handles GET /v1/chats/:id
func (h *ChatHandler) Summary(c *gin.Context) {
	e, ok := h.entity(c)
	if !ok {
		return
	}
	summary, err := e.Summary(c.Request.Context(), call(c))
	h.respond(c, "get chat", http.StatusOK, summary, err)
}

// Updates handles GET /v1/chats/:id/updates?since=<RFC 3339>. It answers
// 204 when nothing changed.
func (h *ChatHandler) Updates(c *gin.Context) {
	e, ok := h.entity(c)
	if !ok {
		return
	}
	since, ok := queryTime(c, "since")
	if !ok {
		return
	}
	if since == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'since' is required"})
		return
	}
	updates, changed, err := e.SummaryUpdates(c.Request.Context(), call(c), *since)
	if err == nil && !changed {
		c.Status(http.StatusNoContent)
		return
	}
	h.respond(c, "get chat updates", http.StatusOK, updates, err)
}

type settingsRequest struct {
	Name                       *string `json:"name"`
	Public                     *bool   `json:"public"`
	HistoryVisibleToNewJoiners *bool   `json:"history_visible_to_new_joiners"`
	MemberLimit                *int    `json:"member_limit"`
}

// UpdateSettings handles PATCH /v1/chats/:id
func (h *ChatHandler) UpdateSettings(c *gin.Context) {
	req, ok := bind[settingsRequest](c)
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	err := e.UpdateSettings(c.Request.Context(), call(c), chat.SettingsUpdate{
		Name:                       req.Name,
		Public:                     req.Public,
		HistoryVisibleToNewJoiners: req.HistoryVisibleToNewJoiners,
		MemberLimit:                req.MemberLimit,
	})
	h.respond(c, "update chat", http.StatusNoContent, nil, err)
}

type freezeRequest struct {
	Reason string `json:"reason"`
}

// Freeze handles POST /v1/chats/:id/freeze
func (h *ChatHandler) Freeze(c *gin.Context) {
	req, ok := bindOptional[freezeRequest](c)
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	h.respond(c, "freeze chat", http.StatusNoContent, nil, e.Freeze(c.Request.Context(), call(c), req.Reason))
}

// Unfreeze handles DELETE /v1/chats/:id/freeze
func (h *ChatHandler) Unfreeze(c *gin.Context) {
	e, ok := h.entity(c)
	if !ok {
		return
	}
	h.respond(c, "unfreeze chat", http.StatusNoContent, nil, e.Unfreeze(c.Request.Context(), call(c)))
}

type gateRequest struct {
	Gate *gate.AccessGate `json:"gate"`
}

// SetGate handles PUT /v1/chats/:id/gate. A null gate removes it.
func (h *ChatHandler) SetGate(c *gin.Context) {
	req, ok := bind[gateRequest](c)
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	h.respond(c, "set gate", http.StatusNoContent, nil, e.SetGate(c.Request.Context(), call(c), req.Gate))
}

type ttlRequest struct {
	EventsTTL *string `json:"events_ttl"`
}

// SetEventsTTL handles PUT /v1/chats/:id/ttl. A null TTL disables expiry.
func (h *ChatHandler) SetEventsTTL(c *gin.Context) {
	req, ok := bind[ttlRequest](c)
	if !ok {
		return
	}
	ttl, err := parseTTL(req.EventsTTL)
	if err != nil {
		writeError(c, h.logger, "set ttl", err)
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	h.respond(c, "set ttl", http.StatusNoContent, nil, e.SetEventsTTL(c.Request.Context(), call(c), ttl))
}

type rulesRequest struct {
	Text    string `json:"text"`
	Enabled bool   `json:"enabled"`
}

// SetRules handles PUT /v1/chats/:id/rules
func (h *ChatHandler) SetRules(c *gin.Context) {
	req, ok := bind[rulesRequest](c)
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	rules, err := e.SetRules(c.Request.Context(), call(c), req.Text, req.Enabled)
	h.respond(c, "set rules", http.StatusOK, rules, err)
}

type acceptRulesRequest struct {
	Version uint32 `json:"version" binding:"required"`
}

// AcceptRules handles POST /v1/chats/:id/rules/accept
func (h *ChatHandler) AcceptRules(c *gin.Context) {
	req, ok := bind[acceptRulesRequest](c)
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	h.respond(c, "accept rules", http.StatusNoContent, nil, e.AcceptRules(c.Request.Context(), call(c), req.Version))
}

// ResetInviteCode handles POST /v1/chats/:id/invite-code. The plain code
// is only ever returned here.
func (h *ChatHandler) ResetInviteCode(c *gin.Context) {
	e, ok := h.entity(c)
	if !ok {
		return
	}
	code, err := e.ResetInviteCode(c.Request.Context(), call(c))
	h.respond(c, "reset invite code", http.StatusOK, gin.H{"code": code}, err)
}

// DisableInviteCode handles DELETE /v1/chats/:id/invite-code
func (h *ChatHandler) DisableInviteCode(c *gin.Context) {
	e, ok := h.entity(c)
	if !ok {
		return
	}
	h.respond(c, "disable invite code", http.StatusNoContent, nil, e.DisableInviteCode(c.Request.Context(), call(c)))
}

// Metrics handles GET /v1/admin/metrics: activity rolled up across every
// loaded chat. Platform moderators only.
func (h *ChatHandler) Metrics(c *gin.Context) {
	if !call(c).PlatformModerator {
		writeError(c, h.logger, "get metrics", chat.ErrNotAuthorized)
		return
	}
	total, err := h.manager.Metrics(c.Request.Context())
	h.respond(c, "get metrics", http.StatusOK, gin.H{
		"chats_loaded": h.manager.Loaded(),
		"metrics":      total,
	}, err)
}
