package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/chat"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/models"
)

type sendRequest struct {
	Content   models.MessageContent `json:"content"`
	RepliesTo *events.MessageIndex  `json:"replies_to"`
	Forwarded bool                  `json:"forwarded"`
	// MessageID lets clients retry a send under the id they generated.
	MessageID uuid.UUID `json:"message_id"`
}

// Send handles POST /v1/chats/:id/messages?thread=<root>
func (h *ChatHandler) Send(c *gin.Context) {
	req, ok := bind[sendRequest](c)
	if !ok {
		return
	}
	root, ok := thread(c)
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	res, err := e.Send(c.Request.Context(), chat.SendArgs{
		Call:      call(c),
		Thread:    root,
		Content:   req.Content,
		RepliesTo: req.RepliesTo,
		Forwarded: req.Forwarded,
		MessageID: req.MessageID,
	})
	h.respond(c, "send message", http.StatusCreated, res, err)
}

// message resolves the chat, the optional thread and :mi.
func (h *ChatHandler) message(c *gin.Context) (*chat.Entity, *events.MessageIndex, events.MessageIndex, bool) {
	mi, ok := messageIndexParam(c, "mi")
	if !ok {
		return nil, nil, 0, false
	}
	root, ok := thread(c)
	if !ok {
		return nil, nil, 0, false
	}
	e, ok := h.entity(c)
	if !ok {
		return nil, nil, 0, false
	}
	return e, root, mi, true
}

type editRequest struct {
	Content models.MessageContent `json:"content"`
}

// Edit handles PUT /v1/chats/:id/messages/:mi
func (h *ChatHandler) Edit(c *gin.Context) {
	req, ok := bind[editRequest](c)
	if !ok {
		return
	}
	e, root, mi, ok := h.message(c)
	if !ok {
		return
	}
	h.respond(c, "edit message", http.StatusNoContent, nil, e.Edit(c.Request.Context(), call(c), root, mi, req.Content))
}

// Delete handles DELETE /v1/chats/:id/messages/:mi
func (h *ChatHandler) Delete(c *gin.Context) {
	e, root, mi, ok := h.message(c)
	if !ok {
		return
	}
	h.respond(c, "delete message", http.StatusNoContent, nil, e.Delete(c.Request.Context(), call(c), root, mi))
}

// Undelete handles POST /v1/chats/:id/messages/:mi/undelete
func (h *ChatHandler) Undelete(c *gin.Context) {
	e, root, mi, ok := h.message(c)
	if !ok {
		return
	}
	h.respond(c, "undelete message", http.StatusNoContent, nil, e.Undelete(c.Request.Context(), call(c), root, mi))
}

// React handles PUT /v1/chats/:id/messages/:mi/reactions/:reaction
func (h *ChatHandler) React(c *gin.Context) {
	e, root, mi, ok := h.message(c)
	if !ok {
		return
	}
	err := e.React(c.Request.Context(), call(c), root, mi, c.Param("reaction"))
	h.respond(c, "add reaction", http.StatusNoContent, nil, err)
}

// Unreact handles DELETE /v1/chats/:id/messages/:mi/reactions/:reaction
func (h *ChatHandler) Unreact(c *gin.Context) {
	e, root, mi, ok := h.message(c)
	if !ok {
		return
	}
	err := e.Unreact(c.Request.Context(), call(c), root, mi, c.Param("reaction"))
	h.respond(c, "remove reaction", http.StatusNoContent, nil, err)
}

// Pin handles PUT /v1/chats/:id/pins/:mi
func (h *ChatHandler) Pin(c *gin.Context) {
	e, _, mi, ok := h.message(c)
	if !ok {
		return
	}
	h.respond(c, "pin message", http.StatusNoContent, nil, e.Pin(c.Request.Context(), call(c), mi))
}

// Unpin handles DELETE /v1/chats/:id/pins/:mi
func (h *ChatHandler) Unpin(c *gin.Context) {
	e, _, mi, ok := h.message(c)
	if !ok {
		return
	}
	h.respond(c, "unpin message", http.StatusNoContent, nil, e.Unpin(c.Request.Context(), call(c), mi))
}

// readArgs collects the query parameters shared by every read.
func readArgs(c *gin.Context) (chat.ReadArgs, bool) {
	root, ok := thread(c)
	if !ok {
		return chat.ReadArgs{}, false
	}
	maxEvents, ok := queryInt(c, "max_events")
	if !ok {
		return chat.ReadArgs{}, false
	}
	maxMessages, ok := queryInt(c, "max_messages")
	if !ok {
		return chat.ReadArgs{}, false
	}
	latest, ok := queryTime(c, "latest_known_update")
	if !ok {
		return chat.ReadArgs{}, false
	}
	return chat.ReadArgs{
		Call:              call(c),
		Thread:            root,
		MaxEvents:         maxEvents,
		MaxMessages:       maxMessages,
		LatestKnownUpdate: latest,
	}, true
}

func indexList(c *gin.Context, name string) ([]uint32, bool) {
	raw := c.QueryArray(name)
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one '" + name + "' is required"})
		return nil, false
	}
	out := make([]uint32, 0, len(raw))
	for _, r := range raw {
		n, err := strconv.ParseUint(r, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid '" + name + "' parameter"})
			return nil, false
		}
		out = append(out, uint32(n))
	}
	return out, true
}

// Events handles GET /v1/chats/:id/events?start=&ascending=
func (h *ChatHandler) Events(c *gin.Context) {
	args, ok := readArgs(c)
	if !ok {
		return
	}
	start, err := strconv.ParseUint(c.DefaultQuery("start", "0"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'start' parameter"})
		return
	}
	ascending, err := strconv.ParseBool(c.DefaultQuery("ascending", "true"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'ascending' parameter"})
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	resp, err := e.Events(c.Request.Context(), args, events.EventIndex(start), ascending)
	h.respond(c, "read events", http.StatusOK, resp, err)
}

// EventsWindow handles GET /v1/chats/:id/events/window?message_index=
func (h *ChatHandler) EventsWindow(c *gin.Context) {
	args, ok := readArgs(c)
	if !ok {
		return
	}
	mid, err := strconv.ParseUint(c.Query("message_index"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'message_index' parameter"})
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	resp, err := e.EventsWindow(c.Request.Context(), args, events.MessageIndex(mid))
	h.respond(c, "read events", http.StatusOK, resp, err)
}

// EventsByIndex handles GET /v1/chats/:id/events/by-index?index=1&index=2
func (h *ChatHandler) EventsByIndex(c *gin.Context) {
	args, ok := readArgs(c)
	if !ok {
		return
	}
	raw, ok := indexList(c, "index")
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	indexes := make([]events.EventIndex, len(raw))
	for i, n := range raw {
		indexes[i] = events.EventIndex(n)
	}
	resp, err := e.EventsByIndex(c.Request.Context(), args, indexes)
	h.respond(c, "read events", http.StatusOK, resp, err)
}

// Messages handles GET /v1/chats/:id/messages?index=0&index=3
func (h *ChatHandler) Messages(c *gin.Context) {
	args, ok := readArgs(c)
	if !ok {
		return
	}
	raw, ok := indexList(c, "index")
	if !ok {
		return
	}
	e, ok := h.entity(c)
	if !ok {
		return
	}
	indexes := make([]events.MessageIndex, len(raw))
	for i, n := range raw {
		indexes[i] = events.MessageIndex(n)
	}
	resp, err := e.Messages(c.Request.Context(), args, indexes)
	h.respond(c, "read messages", http.StatusOK, resp, err)
}
