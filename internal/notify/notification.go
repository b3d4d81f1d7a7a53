// Package notify carries one-way signals out of a chat entity: activity
// for client fan-out and membership or message changes for the per-user
// registries. Delivery is fire-and-forget and consumers must tolerate
// duplicates.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/codec"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/models"
)

type Kind string

const (
	// KindActivity follows every committed batch of events.
	KindActivity Kind = "activity"
	// KindMemberJoined and KindMemberLeft update the subject's joined
	// groups.
	KindMemberJoined Kind = "member_joined"
	KindMemberLeft   Kind = "member_left"
	// KindDirectMessage updates both participants' direct chat lists.
	KindDirectMessage Kind = "direct_message"
)

type Notification struct {
	Kind     Kind            `json:"kind"`
	ChatID   uuid.UUID       `json:"chat_id"`
	ChatKind models.ChatKind `json:"chat_kind"`
	// UserID is the subject: the member that joined or left, or the
	// sender of a direct message.
	UserID           uuid.UUID         `json:"user_id"`
	At               time.Time         `json:"at"`
	LatestEventIndex events.EventIndex `json:"latest_event_index"`
	// Recipients are the users whose registries must apply the
	// notification. Empty for activity signals.
	Recipients []uuid.UUID `json:"recipients,omitempty"`

	MessageIndex *events.MessageIndex `json:"message_index,omitempty"`
	ContentType  string               `json:"content_type,omitempty"`
	IsReply      bool                 `json:"is_reply,omitempty"`
}

// Encode returns the wire form used on the pub/sub channel.
func (n Notification) Encode() ([]byte, error) {
	return codec.Marshal(n)
}

func Decode(data []byte) (Notification, error) {
	var n Notification
	err := codec.Unmarshal(data, &n)
	return n, err
}

// Publisher emits notifications. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Handler consumes notifications. Handle must be idempotent.
type Handler interface {
	Handle(ctx context.Context, n Notification) error
}

type HandlerFunc func(ctx context.Context, n Notification) error

func (f HandlerFunc) Handle(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
