package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrChatFrozen          = errors.New("chat is frozen")
	ErrChatNotFrozen       = errors.New("chat is not frozen")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrNotInvited          = errors.New("not invited")
	ErrUserMuted           = errors.New("user is muted")
	ErrRulesNotAccepted    = errors.New("chat rules not accepted")
	ErrRulesVersion        = errors.New("chat rules version is out of date")
	ErrLastOwner           = errors.New("the last owner cannot leave or be demoted")
	ErrCannotTargetSelf    = errors.New("operation cannot target the caller")
	ErrDirectChat          = errors.New("operation not supported in direct chats")
	ErrMessageDeleted      = errors.New("message is deleted")
	ErrMessageNotDeleted   = errors.New("message is not deleted")
	ErrAlreadyPinned       = errors.New("message is already pinned")
	ErrNotPinned           = errors.New("message is not pinned")
	ErrTooManyPins         = errors.New("too many pinned messages")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrEntityStopped       = errors.New("chat entity stopped")
	ErrNoInviteCode        = errors.New("chat has no invite code")
	ErrInvalidInviteCode   = errors.New("invalid invite code")
	ErrSameParticipant     = errors.New("a direct chat needs two distinct users")
	ErrUnsupportedChatKind = errors.New("unsupported chat kind")
)

// ReplicaNotUpToDateError is returned to readers that have already seen
// a newer state of the chat than the one serving the read.
type ReplicaNotUpToDateError struct {
	LastUpdated time.Time
}

func (e *ReplicaNotUpToDateError) Error() string {
	return fmt.Sprintf("replica not up to date (last updated %s)", e.LastUpdated.Format(time.RFC3339Nano))
}
