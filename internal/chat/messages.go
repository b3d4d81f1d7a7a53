package chat

import (
	"context"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
)

const maxReactionLen = 32

type SendArgs struct {
	Call
	// Thread selects the thread rooted at that main-stream message; nil
	// sends to the main stream.
	Thread    *events.MessageIndex
	Content   models.MessageContent
	RepliesTo *events.MessageIndex
	Forwarded bool
	// MessageID is generated when zero.
	MessageID uuid.UUID
}

type SendResult struct {
	MessageID    uuid.UUID           `json:"message_id"`
	EventIndex   events.EventIndex   `json:"event_index"`
	MessageIndex events.MessageIndex `json:"message_index"`
	Timestamp    time.Time           `json:"timestamp"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
}

// sender loads the caller as a member allowed to post.
func (s *state) sender(userID uuid.UUID) (members.Member, error) {
	if err := s.checkNotFrozen(); err != nil {
		return members.Member{}, err
	}
	m, err := s.member(userID)
	if err != nil {
		return m, err
	}
	if m.Muted {
		return m, ErrUserMuted
	}
	if s.rules.Value.Enabled && !s.isDirect() && !m.HasAccepted(s.rules.Value.Version) {
		return m, ErrRulesNotAccepted
	}
	return m, nil
}

// Send appends a message to the main stream or a thread.
func (e *Entity) Send(ctx context.Context, args SendArgs) (SendResult, error) {
	if args.Content.Type == "" {
		return SendResult{}, fmt.Errorf("%w: content type is required", ErrInvalidRequest)
	}
	var res SendResult
	err := e.mutate(ctx, args.Call, func(t *tx) error {
		s := e.st
		m, err := s.sender(args.Caller)
		if err != nil {
			return err
		}
		stream := events.ThreadFromPtr(args.Thread)
		if args.Thread != nil {
			if err := s.visibleRoot(*args.Thread, m.Visibility, t.now); err != nil {
				return err
			}
		}
		if args.RepliesTo != nil {
			if _, err := s.log.Message(stream, *args.RepliesTo, m.Visibility.MinEventIndex, t.now); err != nil {
				return err
			}
		}

		id := args.MessageID
		if id == uuid.Nil {
			id = uuid.Must(uuid.NewV7())
		}
		ev, err := e.push(t, stream, events.MessageSent{
			MessageID: id,
			Sender:    args.Caller,
			Content:   args.Content,
			RepliesTo: args.RepliesTo,
			Forwarded: args.Forwarded,
		})
		if err != nil {
			return err
		}
		res = SendResult{
			MessageID:    id,
			EventIndex:   ev.Index,
			MessageIndex: *ev.MessageIndex,
			Timestamp:    ev.Timestamp,
			ExpiresAt:    ev.ExpiresAt,
		}

		if s.isDirect() {
			mi := *ev.MessageIndex
			e.notify(t, notify.Notification{
				Kind:         notify.KindDirectMessage,
				UserID:       args.Caller,
				Recipients:   slices.Clone(s.participants),
				MessageIndex: &mi,
				ContentType:  args.Content.Type,
				IsReply:      args.RepliesTo != nil,
			})
		}
		return nil
	})
	return res, err
}

// target resolves a message the caller can see.
func (s *state) target(caller uuid.UUID, stream events.StreamID, mi events.MessageIndex, now time.Time) (members.Member, events.MessageView, error) {
	m, err := s.member(caller)
	if err != nil {
		return m, events.MessageView{}, err
	}
	if root, ok := stream.Root(); ok {
		if err := s.visibleRoot(root, m.Visibility, now); err != nil {
			return m, events.MessageView{}, err
		}
	}
	v, err := s.log.Message(stream, mi, m.Visibility.MinEventIndex, now)
	return m, v, err
}

// Edit replaces the content of the caller's own message.
func (e *Entity) Edit(ctx context.Context, call Call, thread *events.MessageIndex, mi events.MessageIndex, content models.MessageContent) error {
	if content.Type == "" {
		return fmt.Errorf("%w: content type is required", ErrInvalidRequest)
	}
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if _, err := s.sender(call.Caller); err != nil {
			return err
		}
		stream := events.ThreadFromPtr(thread)
		_, v, err := s.target(call.Caller, stream, mi, t.now)
		if err != nil {
			return err
		}
		if v.Sender != call.Caller {
			return ErrNotAuthorized
		}
		if v.Deleted != nil {
			return ErrMessageDeleted
		}
		_, err = e.push(t, stream, events.MessageEdited{MessageIndex: mi, EditedBy: call.Caller, Content: content})
		return err
	})
}

// canModerateMessage reports whether m may delete or undelete v.
func canModerateMessage(m members.Member, v events.MessageView, direct bool) bool {
	if v.Sender == m.UserID {
		return true
	}
	return !direct && m.Role.AtLeast(models.RoleModerator)
}

// Delete soft-deletes a message. Senders delete their own messages;
// moderators delete anyone's in groups.
func (e *Entity) Delete(ctx context.Context, call Call, thread *events.MessageIndex, mi events.MessageIndex) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.checkNotFrozen(); err != nil {
			return err
		}
		stream := events.ThreadFromPtr(thread)
		m, v, err := s.target(call.Caller, stream, mi, t.now)
		if err != nil {
			return err
		}
		if !canModerateMessage(m, v, s.isDirect()) {
			return ErrNotAuthorized
		}
		if v.Deleted != nil {
			return ErrMessageDeleted
		}
		_, err = e.push(t, stream, events.MessageDeleted{MessageIndex: mi, DeletedBy: call.Caller})
		return err
	})
}

// Undelete restores a deleted message. The log kept the original, so
// nothing is lost. A sender cannot undo a moderator's deletion.
func (e *Entity) Undelete(ctx context.Context, call Call, thread *events.MessageIndex, mi events.MessageIndex) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.checkNotFrozen(); err != nil {
			return err
		}
		stream := events.ThreadFromPtr(thread)
		m, v, err := s.target(call.Caller, stream, mi, t.now)
		if err != nil {
			return err
		}
		if v.Deleted == nil {
			return ErrMessageNotDeleted
		}
		if !canModerateMessage(m, v, s.isDirect()) {
			return ErrNotAuthorized
		}
		if v.Deleted.By != call.Caller && v.Deleted.By != v.Sender && !m.Role.AtLeast(models.RoleModerator) {
			return ErrNotAuthorized
		}
		_, err = e.push(t, stream, events.MessageUndeleted{MessageIndex: mi, UndeletedBy: call.Caller})
		return err
	})
}

func validReaction(r string) bool {
	return r != "" && utf8.RuneCountInString(r) <= maxReactionLen
}

func hasReacted(v events.MessageView, user uuid.UUID, reaction string) bool {
	for _, r := range v.Reactions {
		if r.Reaction == reaction {
			return slices.Contains(r.Users, user)
		}
	}
	return false
}

// React adds the caller's reaction. Adding it twice does nothing.
func (e *Entity) React(ctx context.Context, call Call, thread *events.MessageIndex, mi events.MessageIndex, reaction string) error {
	return e.reaction(ctx, call, thread, mi, reaction, true)
}

// Unreact removes the caller's reaction. Removing an absent one does
// nothing.
func (e *Entity) Unreact(ctx context.Context, call Call, thread *events.MessageIndex, mi events.MessageIndex, reaction string) error {
	return e.reaction(ctx, call, thread, mi, reaction, false)
}

func (e *Entity) reaction(ctx context.Context, call Call, thread *events.MessageIndex, mi events.MessageIndex, reaction string, add bool) error {
	if !validReaction(reaction) {
		return fmt.Errorf("%w: bad reaction", ErrInvalidRequest)
	}
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.checkNotFrozen(); err != nil {
			return err
		}
		stream := events.ThreadFromPtr(thread)
		_, v, err := s.target(call.Caller, stream, mi, t.now)
		if err != nil {
			return err
		}
		if v.Deleted != nil {
			return ErrMessageDeleted
		}
		if hasReacted(v, call.Caller, reaction) == add {
			return nil
		}
		var payload events.Payload = events.ReactionAdded{MessageIndex: mi, UserID: call.Caller, Reaction: reaction}
		if !add {
			payload = events.ReactionRemoved{MessageIndex: mi, UserID: call.Caller, Reaction: reaction}
		}
		_, err = e.push(t, stream, payload)
		return err
	})
}

// Pin adds a main-stream message to the front of the pinned list.
func (e *Entity) Pin(ctx context.Context, call Call, mi events.MessageIndex) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.checkNotFrozen(); err != nil {
			return err
		}
		if !s.isDirect() {
			if _, err := s.requireRole(call.Caller, models.RoleModerator); err != nil {
				return err
			}
		}
		if _, _, err := s.target(call.Caller, events.Main, mi, t.now); err != nil {
			return err
		}
		if s.isPinned(mi) {
			return ErrAlreadyPinned
		}
		if len(s.pinned.Value) >= MaxPinned {
			return ErrTooManyPins
		}
		pinned := append([]events.MessageIndex{mi}, s.pinned.Value...)
		s.pinned.Set(pinned, t.now)
		_, err := e.push(t, events.Main, events.MessagePinned{MessageIndex: mi, PinnedBy: call.Caller})
		return err
	})
}

func (e *Entity) Unpin(ctx context.Context, call Call, mi events.MessageIndex) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.checkNotFrozen(); err != nil {
			return err
		}
		need := models.RoleModerator
		if s.isDirect() {
			need = models.RoleMember
		}
		if _, err := s.requireRole(call.Caller, need); err != nil {
			return err
		}
		if !s.isPinned(mi) {
			return ErrNotPinned
		}
		pinned := slices.DeleteFunc(slices.Clone(s.pinned.Value), func(p events.MessageIndex) bool { return p == mi })
		s.pinned.Set(pinned, t.now)
		_, err := e.push(t, events.Main, events.MessageUnpinned{MessageIndex: mi, UnpinnedBy: call.Caller})
		return err
	})
}
