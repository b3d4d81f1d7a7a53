package chat

import (
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastOwnerCannotLeave(t *testing.T) {
	f := newFixture(t)
	e := group(t, f.manager, true)
	join(t, e, alice)

	require.ErrorIs(t, e.Leave(bg, as(owner)), ErrLastOwner)
	require.NoError(t, e.ChangeRole(bg, as(owner), alice, models.RoleOwner))
	require.NoError(t, e.Leave(bg, as(owner)))
	require.ErrorIs(t, e.Leave(bg, as(owner)), members.ErrNotMember)

	// A sole owner may leave once nobody else remains.
	require.NoError(t, e.Leave(bg, as(alice)))
}

func TestRemoveMemberNeedsHigherRank(t *testing.T) {
	f := newFixture(t)
	ch := f.bus.Subscribe()
	e := group(t, f.manager, true)
	join(t, e, alice, bob, carol)
	require.NoError(t, e.ChangeRole(bg, as(owner), alice, models.RoleModerator))
	require.NoError(t, e.ChangeRole(bg, as(owner), bob, models.RoleModerator))

	require.ErrorIs(t, e.RemoveMember(bg, as(carol), bob), ErrNotAuthorized)
	require.ErrorIs(t, e.RemoveMember(bg, as(alice), bob), ErrNotAuthorized)
	require.ErrorIs(t, e.RemoveMember(bg, as(alice), alice), ErrCannotTargetSelf)
	require.ErrorIs(t, e.RemoveMember(bg, as(alice), staff), members.ErrNotMember)
	require.NoError(t, e.RemoveMember(bg, as(alice), carol))

	n := await(t, ch, notify.KindMemberLeft)
	assert.Equal(t, carol, n.UserID)
	assert.Equal(t, []uuid.UUID{carol}, n.Recipients)

	ok, err := e.IsMember(bg, carol)
	require.NoError(t, err)
	assert.False(t, ok)
	// Removal is not a block.
	join(t, e, carol)
}

func TestChangeRoleLimits(t *testing.T) {
	f := newFixture(t)
	e := group(t, f.manager, true)
	join(t, e, alice, bob)
	require.NoError(t, e.ChangeRole(bg, as(owner), alice, models.RoleAdmin))

	require.ErrorIs(t, e.ChangeRole(bg, as(alice), bob, models.RoleOwner), ErrNotAuthorized)
	require.ErrorIs(t, e.ChangeRole(bg, as(alice), owner, models.RoleMember), ErrNotAuthorized)
	require.ErrorIs(t, e.ChangeRole(bg, as(bob), alice, models.RoleMember), ErrNotAuthorized)
	require.ErrorIs(t, e.ChangeRole(bg, as(alice), bob, models.Role("superuser")), ErrInvalidRequest)
	require.NoError(t, e.ChangeRole(bg, as(alice), bob, models.RoleAdmin))
	assert.Equal(t, models.RoleAdmin, summary(t, e, bob).Role)
}

func TestBlockRemovesMember(t *testing.T) {
	f := newFixture(t)
	ch := f.bus.Subscribe()
	e := group(t, f.manager, true)
	join(t, e, alice)

	require.NoError(t, e.Block(bg, as(owner), alice))
	n := await(t, ch, notify.KindMemberLeft)
	assert.Equal(t, alice, n.UserID)

	ok, err := e.IsMember(bg, alice)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = e.Invite(bg, as(owner), []uuid.UUID{alice})
	require.NoError(t, err)
	_, err = e.Join(bg, JoinArgs{Call: as(alice)})
	require.ErrorIs(t, err, members.ErrBlocked)

	require.NoError(t, e.Unblock(bg, as(owner), bob))
	require.ErrorIs(t, e.Unblock(bg, as(alice), alice), members.ErrNotMember)
	require.NoError(t, e.Unblock(bg, platform(staff), alice))
	join(t, e, alice)
}

func TestInvitePermissions(t *testing.T) {
	f := newFixture(t)
	public := group(t, f.manager, true)
	join(t, public, alice)
	invited, err := public.Invite(bg, as(alice), []uuid.UUID{bob, owner})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob}, invited)

	private := group(t, f.manager, false)
	_, err = private.Invite(bg, as(owner), []uuid.UUID{alice, bob})
	require.NoError(t, err)
	join(t, private, alice)
	_, err = private.Invite(bg, as(alice), []uuid.UUID{carol})
	require.ErrorIs(t, err, ErrNotAuthorized)

	require.ErrorIs(t, private.RevokeInvitation(bg, as(alice), bob), ErrNotAuthorized)
	require.NoError(t, private.RevokeInvitation(bg, as(owner), bob))
	_, err = private.Join(bg, JoinArgs{Call: as(bob)})
	require.ErrorIs(t, err, ErrNotInvited)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	e := group(t, f.manager, false)
	join(t, e, carol)

	require.ErrorIs(t, e.UpdateSettings(bg, as(owner), SettingsUpdate{Name: ptr("")}), ErrInvalidRequest)
	require.ErrorIs(t, e.UpdateSettings(bg, as(carol), SettingsUpdate{Public: ptr(true)}), ErrNotAuthorized)
	require.NoError(t, e.UpdateSettings(bg, as(owner), SettingsUpdate{
		Name:                       ptr("lounge"),
		Public:                     ptr(true),
		HistoryVisibleToNewJoiners: ptr(false),
	}))

	s := summary(t, e, owner)
	assert.Equal(t, "lounge", s.Name)
	assert.True(t, s.Public)
	assert.False(t, s.HistoryVisible)
	join(t, e, alice)
}
