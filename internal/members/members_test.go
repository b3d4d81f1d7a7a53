package members

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/codec"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/visibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

var head = visibility.Window{MinEventIndex: 10, MinMessageIndex: 7}

func add(tb *Table, id uuid.UUID, now time.Time) AddResult {
	return tb.Add(AddArgs{UserID: id, Now: now, Next: head})
}

func TestAddOutcomes(t *testing.T) {
	tb := NewTable(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	res := add(tb, a, t0)
	require.Equal(t, Added, res.Outcome)
	assert.Equal(t, models.RoleMember, res.Member.Role)
	assert.Equal(t, head, res.Member.Visibility, "private history starts at the head")

	again := add(tb, a, t0.Add(time.Second))
	assert.Equal(t, AlreadyInGroup, again.Outcome)
	assert.Equal(t, res.Member, again.Member)
	assert.NoError(t, again.Err())

	tb.Block(c, t0)
	blocked := add(tb, c, t0)
	assert.Equal(t, Blocked, blocked.Outcome)
	assert.ErrorIs(t, blocked.Err(), ErrBlocked)

	require.Equal(t, Added, add(tb, b, t0).Outcome)
	full := add(tb, uuid.New(), t0)
	assert.Equal(t, LimitReached, full.Outcome)
	var limitErr *LimitError
	require.ErrorAs(t, full.Err(), &limitErr)
	assert.Equal(t, 2, limitErr.Limit)
	assert.Equal(t, 2, tb.Count())
}

func TestAddCheckOrder(t *testing.T) {
	tb := NewTable(1)
	a := uuid.New()
	add(tb, a, t0)

	// A member at the limit is reported as already in the group.
	assert.Equal(t, AlreadyInGroup, tb.Check(a).Outcome)

	// Blocked wins over the limit.
	blockedUser := uuid.New()
	tb.blocked[blockedUser] = t0
	assert.Equal(t, Blocked, tb.Check(blockedUser).Outcome)
}

func TestAddConsumesInvitation(t *testing.T) {
	tb := NewTable(0)
	u, inviter := uuid.New(), uuid.New()
	cutoff := visibility.Window{MinEventIndex: 5, MinMessageIndex: 3}
	require.NoError(t, tb.Invite(Invitation{UserID: u, InvitedBy: inviter, Visibility: cutoff, CreatedAt: t0}))

	res := add(tb, u, t0.Add(time.Minute))
	require.Equal(t, Added, res.Outcome)
	assert.Equal(t, cutoff, res.Member.Visibility)
	require.NotNil(t, res.Member.InvitedBy)
	assert.Equal(t, inviter, *res.Member.InvitedBy)

	_, stillInvited := tb.Invitation(u)
	assert.False(t, stillInvited)

	// Rejoining after leaving does not replay the invitation.
	tb.Remove(u, t0.Add(2*time.Minute))
	res = add(tb, u, t0.Add(3*time.Minute))
	assert.Equal(t, head, res.Member.Visibility)
	assert.Nil(t, res.Member.InvitedBy)
}

func TestInviteRejectsMembersAndBlocked(t *testing.T) {
	tb := NewTable(0)
	m, b := uuid.New(), uuid.New()
	add(tb, m, t0)
	tb.Block(b, t0)

	assert.ErrorIs(t, tb.Invite(Invitation{UserID: m, CreatedAt: t0}), ErrAlreadyMember)
	assert.ErrorIs(t, tb.Invite(Invitation{UserID: b, CreatedAt: t0}), ErrBlocked)
}

func TestRemoveDropsInvitationAndTombstones(t *testing.T) {
	tb := NewTable(0)
	u := uuid.New()
	add(tb, u, t0)
	tb.invitations[u] = Invitation{UserID: u, CreatedAt: t0}

	_, ok := tb.Remove(u, t0.Add(time.Second))
	require.True(t, ok)
	_, invited := tb.Invitation(u)
	assert.False(t, invited)

	removed, complete := tb.RemovedSince(t0)
	assert.True(t, complete)
	assert.Equal(t, []uuid.UUID{u}, removed)

	_, ok = tb.Remove(u, t0.Add(2*time.Second))
	assert.False(t, ok)
}

func TestBlockAndUnblock(t *testing.T) {
	tb := NewTable(0)
	u := uuid.New()
	add(tb, u, t0)

	assert.True(t, tb.Block(u, t0.Add(time.Second)))
	assert.False(t, tb.IsMember(u))
	assert.True(t, tb.IsBlocked(u))

	ids, changed := tb.BlockedIfUpdated(t0)
	assert.True(t, changed)
	assert.Equal(t, []uuid.UUID{u}, ids)

	assert.True(t, tb.Unblock(u, t0.Add(2*time.Second)))
	assert.False(t, tb.Unblock(u, t0.Add(3*time.Second)))
	assert.Equal(t, Added, add(tb, u, t0.Add(4*time.Second)).Outcome)
}

func TestMutations(t *testing.T) {
	tb := NewTable(0)
	u := uuid.New()
	add(tb, u, t0)

	old, err := tb.SetRole(u, models.RoleAdmin, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, old)

	require.NoError(t, tb.SetMuted(u, true, t0.Add(2*time.Second)))
	require.NoError(t, tb.AcceptRules(u, 3, t0.Add(3*time.Second)))

	m, _ := tb.Get(u)
	assert.Equal(t, models.RoleAdmin, m.Role)
	assert.True(t, m.Muted)
	assert.True(t, m.HasAccepted(3))
	assert.False(t, m.HasAccepted(4))
	assert.Equal(t, t0.Add(3*time.Second), m.UpdatedAt)
	assert.Equal(t, 1, tb.CountRole(models.RoleAdmin))

	_, err = tb.SetRole(uuid.New(), models.RoleAdmin, t0)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestUpdatedSince(t *testing.T) {
	tb := NewTable(0)
	a, b := uuid.New(), uuid.New()
	add(tb, a, t0)
	add(tb, b, t0.Add(time.Minute))

	updated := tb.UpdatedSince(t0)
	require.Len(t, updated, 1)
	assert.Equal(t, b, updated[0].UserID)

	require.NoError(t, tb.SetMuted(a, true, t0.Add(2*time.Minute)))
	assert.Len(t, tb.UpdatedSince(t0.Add(time.Minute)), 1)
	assert.Equal(t, t0.Add(2*time.Minute), tb.LastUpdated())
}

func TestPruneRemovedReportsIncomplete(t *testing.T) {
	tb := NewTable(0)
	u := uuid.New()
	add(tb, u, t0)
	tb.Remove(u, t0.Add(time.Hour))

	assert.Equal(t, 1, tb.PruneRemoved(t0.Add(2*time.Hour)))
	_, complete := tb.RemovedSince(t0)
	assert.False(t, complete)
	ids, complete := tb.RemovedSince(t0.Add(3 * time.Hour))
	assert.True(t, complete)
	assert.Empty(t, ids)
}

func TestSnapshotRoundTrip(t *testing.T) {
	tb := NewTable(50)
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	add(tb, a, t0)
	add(tb, b, t0)
	require.NoError(t, tb.AcceptRules(a, 2, t0.Add(time.Second)))
	tb.Remove(b, t0.Add(2*time.Second))
	tb.Block(c, t0.Add(3*time.Second))
	require.NoError(t, tb.Invite(Invitation{UserID: d, InvitedBy: a, CreatedAt: t0.Add(4 * time.Second)}))

	raw, err := codec.Marshal(tb.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, codec.Unmarshal(raw, &snap))

	restored := Restore(snap)
	assert.Equal(t, tb.Snapshot(), restored.Snapshot())
	assert.True(t, restored.IsBlocked(c))
	_, invited := restored.Invitation(d)
	assert.True(t, invited)
	removed, _ := restored.RemovedSince(t0)
	assert.Equal(t, []uuid.UUID{b}, removed)
}
