package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/models"
)

// Deletion records who deleted a message and when.
type Deletion struct {
	By uuid.UUID `json:"by"`
	At time.Time `json:"at"`
}

// Reaction is one reaction and the users who added it, in the order they
// reacted.
type Reaction struct {
	Reaction string      `json:"reaction"`
	Users    []uuid.UUID `json:"users"`
}

// MessageView is a message as readers see it: the original MessageSent
// with every overlay event folded on top.
type MessageView struct {
	EventIndex   EventIndex            `json:"event_index"`
	MessageIndex MessageIndex          `json:"message_index"`
	MessageID    uuid.UUID             `json:"message_id"`
	Sender       uuid.UUID             `json:"sender"`
	Content      models.MessageContent `json:"content"`
	RepliesTo    *MessageIndex         `json:"replies_to,omitempty"`
	Forwarded    bool                  `json:"forwarded,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
	ExpiresAt    *time.Time            `json:"expires_at,omitempty"`
	Edited       bool                  `json:"edited"`
	LastUpdated  *time.Time            `json:"last_updated,omitempty"`
	Deleted      *Deletion             `json:"deleted,omitempty"`
	Reactions    []Reaction            `json:"reactions,omitempty"`
	Thread       *ThreadSummary        `json:"thread_summary,omitempty"`
}

// Redacted hides the content of a deleted message. The log keeps the
// original content so the message can still be undeleted.
func (v MessageView) Redacted() MessageView {
	if v.Deleted != nil {
		v.Content = models.MessageContent{Type: "deleted"}
	}
	return v
}

func (v *MessageView) touch(at time.Time) {
	t := at
	v.LastUpdated = &t
}

func (v *MessageView) react(user uuid.UUID, reaction string, add bool) {
	for i := range v.Reactions {
		r := &v.Reactions[i]
		if r.Reaction != reaction {
			continue
		}
		for j, u := range r.Users {
			if u == user {
				if !add {
					r.Users = append(r.Users[:j], r.Users[j+1:]...)
					if len(r.Users) == 0 {
						v.Reactions = append(v.Reactions[:i], v.Reactions[i+1:]...)
					}
				}
				return
			}
		}
		if add {
			r.Users = append(r.Users, user)
		}
		return
	}
	if add {
		v.Reactions = append(v.Reactions, Reaction{Reaction: reaction, Users: []uuid.UUID{user}})
	}
}

// fold materializes the message at pos by replaying its overlays in
// append order.
func (s *stream) fold(pos int) MessageView {
	base := s.events[pos]
	sent := base.Payload.(MessageSent)
	v := MessageView{
		EventIndex:   base.Index,
		MessageIndex: *base.MessageIndex,
		MessageID:    sent.MessageID,
		Sender:       sent.Sender,
		Content:      sent.Content,
		RepliesTo:    sent.RepliesTo,
		Forwarded:    sent.Forwarded,
		Timestamp:    base.Timestamp,
		ExpiresAt:    base.ExpiresAt,
	}
	for _, opos := range s.overlays[v.MessageIndex] {
		ev := s.events[opos]
		switch p := ev.Payload.(type) {
		case MessageEdited:
			v.Content = p.Content
			v.Edited = true
			v.touch(ev.Timestamp)
		case MessageDeleted:
			v.Deleted = &Deletion{By: p.DeletedBy, At: ev.Timestamp}
			v.touch(ev.Timestamp)
		case MessageUndeleted:
			v.Deleted = nil
			v.touch(ev.Timestamp)
		case ReactionAdded:
			v.react(p.UserID, p.Reaction, true)
			v.touch(ev.Timestamp)
		case ReactionRemoved:
			v.react(p.UserID, p.Reaction, false)
			v.touch(ev.Timestamp)
		}
	}
	return v
}

// Message materializes one message. It fails with ErrMessageNotFound when
// the message does not exist, lies below the reader's cutoff or has
// expired.
func (l *Log) Message(id StreamID, mi MessageIndex, minVisible EventIndex, now time.Time) (MessageView, error) {
	s, err := l.lookup(id)
	if err != nil {
		return MessageView{}, err
	}
	pos, ok := s.byMessage[mi]
	if !ok || !s.visible(&s.events[pos], minVisible, now) {
		return MessageView{}, ErrMessageNotFound
	}
	v := s.fold(pos)
	if !id.thread {
		if summary, ok := l.ThreadSummary(mi); ok {
			v.Thread = &summary
		}
	}
	return v, nil
}

// Messages materializes every visible message among indexes, skipping
// the ones that are missing or hidden.
func (l *Log) Messages(id StreamID, indexes []MessageIndex, minVisible EventIndex, now time.Time) ([]MessageView, error) {
	if _, err := l.lookup(id); err != nil {
		return nil, err
	}
	out := make([]MessageView, 0, len(indexes))
	seen := make(map[MessageIndex]bool, len(indexes))
	for _, mi := range indexes {
		if seen[mi] {
			continue
		}
		seen[mi] = true
		v, err := l.Message(id, mi, minVisible, now)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
