package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/visibility"
)

func (s *state) member(userID uuid.UUID) (members.Member, error) {
	m, ok := s.members.Get(userID)
	if !ok {
		return members.Member{}, members.ErrNotMember
	}
	return m, nil
}

// requireRole returns the caller's membership if they hold at least min.
func (s *state) requireRole(userID uuid.UUID, min models.Role) (members.Member, error) {
	m, err := s.member(userID)
	if err != nil {
		return m, err
	}
	if !m.Role.AtLeast(min) {
		return m, ErrNotAuthorized
	}
	return m, nil
}

// outranks reports whether actor may act on a member holding target.
// Owners may act on anyone, including other owners.
func outranks(actor, target models.Role) bool {
	return actor == models.RoleOwner || actor.Rank() > target.Rank()
}

// groupMutation guards operations that only exist for groups and
// channels and are refused while frozen.
func (s *state) groupMutation() error {
	if s.isDirect() {
		return ErrDirectChat
	}
	return s.checkNotFrozen()
}

// readerWindow is the cutoff applied to caller's reads. Non-members of a
// public chat read what a member joining now would see.
func (s *state) readerWindow(caller uuid.UUID) (visibility.Window, error) {
	if m, ok := s.members.Get(caller); ok {
		return m.Visibility, nil
	}
	if s.public && !s.isDirect() && !s.members.IsBlocked(caller) {
		return visibility.ForNewMember(nil, s.history, visibility.Next(s.log)), nil
	}
	return visibility.Window{}, members.ErrNotMember
}

// checkReplica rejects readers that have already seen a newer state.
func (s *state) checkReplica(latestKnown *time.Time) error {
	if latestKnown == nil {
		return nil
	}
	if last := s.lastUpdated(); latestKnown.After(last) {
		return &ReplicaNotUpToDateError{LastUpdated: last}
	}
	return nil
}

// visibleRoot checks that the thread root exists in the main stream and
// lies within the reader's cutoff.
func (s *state) visibleRoot(root events.MessageIndex, w visibility.Window, now time.Time) error {
	if !w.AllowsMessage(root) {
		return events.ErrThreadNotFound
	}
	if _, err := s.log.Message(events.Main, root, w.MinEventIndex, now); err != nil {
		return events.ErrThreadNotFound
	}
	return nil
}
