package models

import (
	"encoding/json"
	"fmt"
)

// ChatKind tells the owner which kind of conversation it is running.
//
// A direct chat has exactly two participants and no roster, a group has
// its own roster, and a channel is a group that lives inside a community.
type ChatKind string

const (
	ChatKindDirect  ChatKind = "direct"
	ChatKindGroup   ChatKind = "group"
	ChatKindChannel ChatKind = "channel"
)

func (k ChatKind) Valid() bool {
	switch k {
	case ChatKindDirect, ChatKindGroup, ChatKindChannel:
		return true
	}
	return false
}

// Role is a member's rank inside a group or channel.
//
// Roles form a total order (owner > admin > moderator > member). Rank
// comparisons are the only permission model the core understands.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleModerator:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r ranks at or above other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// ParseRole turns a client-supplied string into a Role.
// An empty string means "member".
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleMember, nil
	}
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// MessageContent is the opaque body of a message.
//
// The core never looks inside Body. Type is only used to bucket message
// counts in the chat metrics ("text", "image", "poll", ...).
type MessageContent struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Rules are the entity's terms that members must accept before sending
// messages, when Enabled.
type Rules struct {
	Text    string `json:"text"`
	Enabled bool   `json:"enabled"`
	Version uint32 `json:"version"`
}
