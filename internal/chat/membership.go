package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/lalith-99/echocore/internal/visibility"
)

func (e *Entity) memberLeft(t *tx, userID uuid.UUID) {
	e.notify(t, notify.Notification{
		Kind:       notify.KindMemberLeft,
		UserID:     userID,
		Recipients: []uuid.UUID{userID},
	})
}

// Leave removes the caller. The last owner cannot leave while anyone
// else remains.
func (e *Entity) Leave(ctx context.Context, call Call) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		m, err := s.member(call.Caller)
		if err != nil {
			return err
		}
		if m.Role == models.RoleOwner && s.members.CountRole(models.RoleOwner) == 1 && s.members.Count() > 1 {
			return ErrLastOwner
		}
		s.members.Remove(call.Caller, t.now)
		if _, err := e.push(t, events.Main, events.MemberLeft{UserID: call.Caller}); err != nil {
			return err
		}
		e.memberLeft(t, call.Caller)
		return nil
	})
}

// moderate loads the caller as a moderator acting on target.
func (s *state) moderate(call Call, target uuid.UUID) (members.Member, error) {
	if err := s.groupMutation(); err != nil {
		return members.Member{}, err
	}
	actor, err := s.requireRole(call.Caller, models.RoleModerator)
	if err != nil {
		return actor, err
	}
	if target == call.Caller {
		return actor, ErrCannotTargetSelf
	}
	return actor, nil
}

// RemoveMember removes target. The caller must outrank them.
func (e *Entity) RemoveMember(ctx context.Context, call Call, target uuid.UUID) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		actor, err := s.moderate(call, target)
		if err != nil {
			return err
		}
		m, err := s.member(target)
		if err != nil {
			return err
		}
		if !outranks(actor.Role, m.Role) {
			return ErrNotAuthorized
		}
		s.members.Remove(target, t.now)
		if _, err := e.push(t, events.Main, events.MembersRemoved{UserIDs: []uuid.UUID{target}, RemovedBy: call.Caller}); err != nil {
			return err
		}
		e.memberLeft(t, target)
		return nil
	})
}

// Block removes target if they are a member and bars them from joining.
func (e *Entity) Block(ctx context.Context, call Call, target uuid.UUID) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		actor, err := s.moderate(call, target)
		if err != nil {
			return err
		}
		if s.members.IsBlocked(target) {
			return nil
		}
		if m, ok := s.members.Get(target); ok && !outranks(actor.Role, m.Role) {
			return ErrNotAuthorized
		}
		wasMember := s.members.Block(target, t.now)
		t.dirty = true
		if _, err := e.push(t, events.Main, events.UsersBlocked{UserIDs: []uuid.UUID{target}, BlockedBy: call.Caller}); err != nil {
			return err
		}
		if wasMember {
			e.memberLeft(t, target)
		}
		return nil
	})
}

// Unblock lifts a block. Moderators and platform moderators may unblock;
// unblocking a user that is not blocked does nothing.
func (e *Entity) Unblock(ctx context.Context, call Call, target uuid.UUID) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		if !call.PlatformModerator {
			if _, err := s.requireRole(call.Caller, models.RoleModerator); err != nil {
				return err
			}
		}
		if !s.members.Unblock(target, t.now) {
			return nil
		}
		t.dirty = true
		_, err := e.push(t, events.Main, events.UsersUnblocked{UserIDs: []uuid.UUID{target}, UnblockedBy: call.Caller})
		return err
	})
}

// Invite records invitations for users that are neither members nor
// blocked, and returns the ones invited. Any member may invite to a
// public chat; private chats need an admin.
func (e *Entity) Invite(ctx context.Context, call Call, users []uuid.UUID) ([]uuid.UUID, error) {
	var invited []uuid.UUID
	err := e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		need := models.RoleAdmin
		if s.public {
			need = models.RoleMember
		}
		if _, err := s.requireRole(call.Caller, need); err != nil {
			return err
		}

		// Invitees see history from the point of invitation, or whatever
		// the chat grants new members.
		w := visibility.ForNewMember(nil, s.history, visibility.Next(s.log))
		seen := make(map[uuid.UUID]bool, len(users))
		for _, userID := range users {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			err := s.members.Invite(members.Invitation{
				UserID:     userID,
				InvitedBy:  call.Caller,
				Visibility: w,
				CreatedAt:  t.now,
			})
			if err != nil {
				continue
			}
			invited = append(invited, userID)
		}
		if len(invited) == 0 {
			return nil
		}
		t.dirty = true
		_, err := e.push(t, events.Main, events.UsersInvited{UserIDs: invited, InvitedBy: call.Caller})
		return err
	})
	return invited, err
}

// RevokeInvitation cancels a pending invitation. The inviter or an admin
// may revoke.
func (e *Entity) RevokeInvitation(ctx context.Context, call Call, userID uuid.UUID) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		actor, err := s.member(call.Caller)
		if err != nil {
			return err
		}
		inv, ok := s.members.Invitation(userID)
		if !ok {
			return ErrNotInvited
		}
		if inv.InvitedBy != call.Caller && !actor.Role.AtLeast(models.RoleAdmin) {
			return ErrNotAuthorized
		}
		s.members.RevokeInvitation(userID, t.now)
		t.dirty = true
		return nil
	})
}

// ChangeRole sets target's role. The caller must be an admin who
// outranks the target and does not grant above their own role.
func (e *Entity) ChangeRole(ctx context.Context, call Call, target uuid.UUID, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		if err := s.groupMutation(); err != nil {
			return err
		}
		actor, err := s.requireRole(call.Caller, models.RoleAdmin)
		if err != nil {
			return err
		}
		if target == call.Caller {
			return ErrCannotTargetSelf
		}
		m, err := s.member(target)
		if err != nil {
			return err
		}
		if !outranks(actor.Role, m.Role) || role.Rank() > actor.Role.Rank() {
			return ErrNotAuthorized
		}
		if m.Role == role {
			return nil
		}
		old, err := s.members.SetRole(target, role, t.now)
		if err != nil {
			return err
		}
		_, err = e.push(t, events.Main, events.RoleChanged{
			UserIDs:   []uuid.UUID{target},
			ChangedBy: call.Caller,
			OldRole:   old,
			NewRole:   role,
		})
		return err
	})
}

// SetMuted mutes or unmutes target. Muted members cannot send messages.
func (e *Entity) SetMuted(ctx context.Context, call Call, target uuid.UUID, muted bool) error {
	return e.mutate(ctx, call, func(t *tx) error {
		s := e.st
		actor, err := s.moderate(call, target)
		if err != nil {
			return err
		}
		m, err := s.member(target)
		if err != nil {
			return err
		}
		if !outranks(actor.Role, m.Role) {
			return ErrNotAuthorized
		}
		if m.Muted == muted {
			return nil
		}
		if err := s.members.SetMuted(target, muted, t.now); err != nil {
			return err
		}
		t.dirty = true
		return nil
	})
}
