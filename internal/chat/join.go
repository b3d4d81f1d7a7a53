package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/lalith-99/echocore/internal/payout"
	"github.com/lalith-99/echocore/internal/visibility"
	"go.uber.org/zap"
)

type JoinStatus string

const (
	Joined         JoinStatus = "joined"
	AlreadyInGroup JoinStatus = "already_in_group"
)

type JoinArgs struct {
	Call
	// InviteCode admits the caller to a private chat without an
	// invitation.
	InviteCode string
}

// JoinResult is returned for both a fresh join and a repeated one.
// Admission holds the state trace of the attempt.
type JoinResult struct {
	Status           JoinStatus
	Member           members.Member
	LatestEventIndex events.EventIndex
	Admission        []gate.State
}

// alreadyMember ends validation early without being a rejection.
type alreadyMember struct {
	member members.Member
}

func (alreadyMember) Error() string { return "already a member" }

// Join admits the caller. When the chat has an access gate the external
// check runs off the actor, and admissibility is checked again before
// anything is written.
func (e *Entity) Join(ctx context.Context, args JoinArgs) (JoinResult, error) {
	steps := gate.Steps[JoinResult]{
		Validate: func() (*gate.AccessGate, error) {
			return e.validateJoin(args)
		},
		Commit: func(approval gate.Approval) (JoinResult, error) {
			t := e.begin(args.Call)
			defer e.commit(ctx, t)
			return e.commitJoin(t, approval)
		},
	}
	at := gate.Attempt{ChatID: e.id, UserID: args.Caller, Now: e.deps.Clock.Now}

	out, err := gate.Admit(ctx, e.do, e.deps.Checker, at, steps)
	e.deps.Metrics.Admission(out.State.String())

	var already alreadyMember
	if errors.As(err, &already) {
		return JoinResult{
			Status:    AlreadyInGroup,
			Member:    already.member,
			Admission: out.Trace,
		}, nil
	}
	if err != nil {
		return JoinResult{Admission: out.Trace}, err
	}
	out.Value.Admission = out.Trace
	return out.Value, nil
}

func (e *Entity) validateJoin(args JoinArgs) (*gate.AccessGate, error) {
	s := e.st
	if s.isDirect() {
		return nil, ErrDirectChat
	}
	if err := s.checkNotFrozen(); err != nil {
		return nil, err
	}
	if m, ok := s.members.Get(args.Caller); ok {
		return nil, alreadyMember{member: m}
	}
	if s.members.IsBlocked(args.Caller) && !args.PlatformModerator {
		return nil, members.ErrBlocked
	}
	_, invited := s.members.Invitation(args.Caller)
	if !s.public && !invited && !args.PlatformModerator && !matchCode(s.inviteCode.Value, args.InviteCode) {
		return nil, ErrNotInvited
	}
	if s.members.LimitReached() {
		return nil, &members.LimitError{Limit: s.members.Limit()}
	}
	if s.gate.Value == nil || args.PlatformModerator {
		return nil, nil
	}
	g := *s.gate.Value
	return &g, nil
}

func (e *Entity) commitJoin(t *tx, approval gate.Approval) (JoinResult, error) {
	s := e.st
	userID := t.call.Caller

	if t.call.PlatformModerator && s.members.Unblock(userID, t.now) {
		if _, err := e.push(t, events.Main, events.UsersUnblocked{UserIDs: []uuid.UUID{userID}, UnblockedBy: userID}); err != nil {
			return JoinResult{}, err
		}
		e.logger.Info("platform moderator unblocked on join", zap.Stringer("user_id", userID))
	}

	res := s.members.Add(members.AddArgs{
		UserID: userID,
		Role:   models.RoleMember,
		Now:    t.now,
		Policy: s.history,
		Next:   visibility.Next(s.log),
	})
	if err := res.Err(); err != nil {
		return JoinResult{}, err
	}
	if res.Outcome == members.AlreadyInGroup {
		return JoinResult{Status: AlreadyInGroup, Member: res.Member}, nil
	}
	t.dirty = true

	ev, err := e.push(t, events.Main, events.MemberJoined{UserID: userID, InvitedBy: res.Member.InvitedBy})
	if err != nil {
		return JoinResult{}, err
	}

	for _, p := range approval.Payments {
		t.payouts = append(t.payouts, payout.Item{
			ChatID:   e.id,
			Payer:    userID,
			LedgerID: p.LedgerID,
			Amount:   p.Amount,
			Fee:      p.Fee,
			At:       t.now,
		})
	}
	e.notify(t, notify.Notification{
		Kind:       notify.KindMemberJoined,
		UserID:     userID,
		Recipients: []uuid.UUID{userID},
	})

	return JoinResult{
		Status:           Joined,
		Member:           res.Member,
		LatestEventIndex: ev.Index,
	}, nil
}
