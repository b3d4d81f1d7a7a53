package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/models"
)

// Kind tags an event payload. The set of kinds is closed.
type Kind string

const (
	KindMessageSent      Kind = "message_sent"
	KindMessageEdited    Kind = "message_edited"
	KindMessageDeleted   Kind = "message_deleted"
	KindMessageUndeleted Kind = "message_undeleted"
	KindReactionAdded    Kind = "reaction_added"
	KindReactionRemoved  Kind = "reaction_removed"
	KindMemberJoined     Kind = "member_joined"
	KindMemberLeft       Kind = "member_left"
	KindMembersRemoved   Kind = "members_removed"
	KindUsersInvited     Kind = "users_invited"
	KindUsersBlocked     Kind = "users_blocked"
	KindUsersUnblocked   Kind = "users_unblocked"
	KindRoleChanged      Kind = "role_changed"
	KindMessagePinned    Kind = "message_pinned"
	KindMessageUnpinned  Kind = "message_unpinned"
	KindRulesChanged     Kind = "rules_changed"
	KindRulesAccepted    Kind = "rules_accepted"
	KindChatFrozen       Kind = "chat_frozen"
	KindChatUnfrozen     Kind = "chat_unfrozen"
	KindGateUpdated      Kind = "gate_updated"
	KindEventsTTLUpdated Kind = "events_ttl_updated"
)

// Payload is the body of an event.
type Payload interface {
	Kind() Kind
}

// overlay payloads layer over an earlier message instead of replacing it.
type overlay interface {
	Payload
	Target() MessageIndex
}

type MessageSent struct {
	MessageID uuid.UUID             `json:"message_id"`
	Sender    uuid.UUID             `json:"sender"`
	Content   models.MessageContent `json:"content"`
	RepliesTo *MessageIndex         `json:"replies_to,omitempty"`
	Forwarded bool                  `json:"forwarded,omitempty"`
}

type MessageEdited struct {
	MessageIndex MessageIndex          `json:"message_index"`
	EditedBy     uuid.UUID             `json:"edited_by"`
	Content      models.MessageContent `json:"content"`
}

type MessageDeleted struct {
	MessageIndex MessageIndex `json:"message_index"`
	DeletedBy    uuid.UUID    `json:"deleted_by"`
}

type MessageUndeleted struct {
	MessageIndex MessageIndex `json:"message_index"`
	UndeletedBy  uuid.UUID    `json:"undeleted_by"`
}

type ReactionAdded struct {
	MessageIndex MessageIndex `json:"message_index"`
	UserID       uuid.UUID    `json:"user_id"`
	Reaction     string       `json:"reaction"`
}

type ReactionRemoved struct {
	MessageIndex MessageIndex `json:"message_index"`
	UserID       uuid.UUID    `json:"user_id"`
	Reaction     string       `json:"reaction"`
}

type MemberJoined struct {
	UserID    uuid.UUID  `json:"user_id"`
	InvitedBy *uuid.UUID `json:"invited_by,omitempty"`
}

type MemberLeft struct {
	UserID uuid.UUID `json:"user_id"`
}

type MembersRemoved struct {
	UserIDs   []uuid.UUID `json:"user_ids"`
	RemovedBy uuid.UUID   `json:"removed_by"`
}

type UsersInvited struct {
	UserIDs   []uuid.UUID `json:"user_ids"`
	InvitedBy uuid.UUID   `json:"invited_by"`
}

type UsersBlocked struct {
	UserIDs   []uuid.UUID `json:"user_ids"`
	BlockedBy uuid.UUID   `json:"blocked_by"`
}

type UsersUnblocked struct {
	UserIDs     []uuid.UUID `json:"user_ids"`
	UnblockedBy uuid.UUID   `json:"unblocked_by"`
}

type RoleChanged struct {
	UserIDs   []uuid.UUID `json:"user_ids"`
	ChangedBy uuid.UUID   `json:"changed_by"`
	OldRole   models.Role `json:"old_role"`
	NewRole   models.Role `json:"new_role"`
}

type MessagePinned struct {
	MessageIndex MessageIndex `json:"message_index"`
	PinnedBy     uuid.UUID    `json:"pinned_by"`
}

type MessageUnpinned struct {
	MessageIndex MessageIndex `json:"message_index"`
	UnpinnedBy   uuid.UUID    `json:"unpinned_by"`
}

type RulesChanged struct {
	Enabled   bool      `json:"enabled"`
	Version   uint32    `json:"version"`
	ChangedBy uuid.UUID `json:"changed_by"`
}

type RulesAccepted struct {
	UserID  uuid.UUID `json:"user_id"`
	Version uint32    `json:"version"`
}

type ChatFrozen struct {
	FrozenBy uuid.UUID `json:"frozen_by"`
	Reason   string    `json:"reason,omitempty"`
}

type ChatUnfrozen struct {
	UnfrozenBy uuid.UUID `json:"unfrozen_by"`
}

// GateUpdated records a change of access gate; GateKind is empty when the
// gate was removed.
type GateUpdated struct {
	UpdatedBy uuid.UUID `json:"updated_by"`
	GateKind  string    `json:"gate_kind,omitempty"`
}

// EventsTTLUpdated records a change of message time-to-live; a nil TTLMillis
// disables expiry.
type EventsTTLUpdated struct {
	UpdatedBy uuid.UUID `json:"updated_by"`
	TTLMillis *int64    `json:"ttl_millis,omitempty"`
}

func (MessageSent) Kind() Kind      { return KindMessageSent }
func (MessageEdited) Kind() Kind    { return KindMessageEdited }
func (MessageDeleted) Kind() Kind   { return KindMessageDeleted }
func (MessageUndeleted) Kind() Kind { return KindMessageUndeleted }
func (ReactionAdded) Kind() Kind    { return KindReactionAdded }
func (ReactionRemoved) Kind() Kind  { return KindReactionRemoved }
func (MemberJoined) Kind() Kind     { return KindMemberJoined }
func (MemberLeft) Kind() Kind       { return KindMemberLeft }
func (MembersRemoved) Kind() Kind   { return KindMembersRemoved }
func (UsersInvited) Kind() Kind     { return KindUsersInvited }
func (UsersBlocked) Kind() Kind     { return KindUsersBlocked }
func (UsersUnblocked) Kind() Kind   { return KindUsersUnblocked }
func (RoleChanged) Kind() Kind      { return KindRoleChanged }
func (MessagePinned) Kind() Kind    { return KindMessagePinned }
func (MessageUnpinned) Kind() Kind  { return KindMessageUnpinned }
func (RulesChanged) Kind() Kind     { return KindRulesChanged }
func (RulesAccepted) Kind() Kind    { return KindRulesAccepted }
func (ChatFrozen) Kind() Kind       { return KindChatFrozen }
func (ChatUnfrozen) Kind() Kind     { return KindChatUnfrozen }
func (GateUpdated) Kind() Kind      { return KindGateUpdated }
func (EventsTTLUpdated) Kind() Kind { return KindEventsTTLUpdated }

func (p MessageEdited) Target() MessageIndex    { return p.MessageIndex }
func (p MessageDeleted) Target() MessageIndex   { return p.MessageIndex }
func (p MessageUndeleted) Target() MessageIndex { return p.MessageIndex }
func (p ReactionAdded) Target() MessageIndex    { return p.MessageIndex }
func (p ReactionRemoved) Target() MessageIndex  { return p.MessageIndex }

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.Kind(), err)
	}
	return p, nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case KindMessageSent:
		return decodeAs[MessageSent](raw)
	case KindMessageEdited:
		return decodeAs[MessageEdited](raw)
	case KindMessageDeleted:
		return decodeAs[MessageDeleted](raw)
	case KindMessageUndeleted:
		return decodeAs[MessageUndeleted](raw)
	case KindReactionAdded:
		return decodeAs[ReactionAdded](raw)
	case KindReactionRemoved:
		return decodeAs[ReactionRemoved](raw)
	case KindMemberJoined:
		return decodeAs[MemberJoined](raw)
	case KindMemberLeft:
		return decodeAs[MemberLeft](raw)
	case KindMembersRemoved:
		return decodeAs[MembersRemoved](raw)
	case KindUsersInvited:
		return decodeAs[UsersInvited](raw)
	case KindUsersBlocked:
		return decodeAs[UsersBlocked](raw)
	case KindUsersUnblocked:
		return decodeAs[UsersUnblocked](raw)
	case KindRoleChanged:
		return decodeAs[RoleChanged](raw)
	case KindMessagePinned:
		return decodeAs[MessagePinned](raw)
	case KindMessageUnpinned:
		return decodeAs[MessageUnpinned](raw)
	case KindRulesChanged:
		return decodeAs[RulesChanged](raw)
	case KindRulesAccepted:
		return decodeAs[RulesAccepted](raw)
	case KindChatFrozen:
		return decodeAs[ChatFrozen](raw)
	case KindChatUnfrozen:
		return decodeAs[ChatUnfrozen](raw)
	case KindGateUpdated:
		return decodeAs[GateUpdated](raw)
	case KindEventsTTLUpdated:
		return decodeAs[EventsTTLUpdated](raw)
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}
