package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Unix(0, 0).UTC()

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func push(d *DirectChats, chatID, them uuid.UUID, ei events.EventIndex, mi events.MessageIndex, mine bool, now time.Time) DirectChat {
	return d.PushMessage(PushArgs{ChatID: chatID, Them: them, EventIndex: ei, MessageIndex: mi, Mine: mine, ContentType: "text", Now: now})
}

func TestRemovedSinceScenario(t *testing.T) {
	d := NewDirectChats()
	chatC, them := uuid.New(), uuid.New()
	push(d, chatC, them, 0, 0, true, at(10))

	require.True(t, d.Remove(them, at(100)))

	removed, complete := d.RemovedSince(at(50))
	assert.True(t, complete)
	assert.Equal(t, []uuid.UUID{chatC}, removed)

	removed, complete = d.RemovedSince(at(150))
	assert.True(t, complete)
	assert.Empty(t, removed)

	_, ok := d.Get(them)
	assert.False(t, ok)
}

func TestPushMessageCreatesAndTracksUnread(t *testing.T) {
	d := NewDirectChats()
	chatID, them := uuid.New(), uuid.New()

	c := push(d, chatID, them, 0, 0, false, at(1))
	assert.Equal(t, at(1), c.CreatedAt)
	assert.Equal(t, 1, c.UnreadCount())

	push(d, chatID, them, 1, 1, false, at(2))
	c = push(d, chatID, them, 3, 2, false, at(3))
	assert.Equal(t, 3, c.UnreadCount())
	assert.Equal(t, events.EventIndex(3), c.Unread[2].EventIndex)

	// Replays are ignored.
	c = push(d, chatID, them, 1, 1, false, at(4))
	assert.Equal(t, 3, c.UnreadCount())
	assert.Equal(t, at(3), c.UpdatedAt)

	changed, err := d.MarkReadUpTo(them, 1, at(5))
	require.NoError(t, err)
	assert.True(t, changed)
	c, _ = d.Get(them)
	assert.Equal(t, []UnreadMessage{{MessageIndex: 2, EventIndex: 3}}, c.Unread)

	changed, err = d.MarkReadUpTo(them, 0, at(6))
	require.NoError(t, err)
	assert.False(t, changed, "read markers never move back")

	// Replying marks everything before it read.
	c = push(d, chatID, them, 4, 3, true, at(7))
	assert.Zero(t, c.UnreadCount())
	require.NotNil(t, c.ReadUpTo)
	assert.Equal(t, events.MessageIndex(3), *c.ReadUpTo)

	_, err = d.MarkReadUpTo(uuid.New(), 1, at(8))
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestPinMovesToFront(t *testing.T) {
	d := NewDirectChats()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	push(d, a, uuid.New(), 0, 0, true, at(1))
	push(d, b, uuid.New(), 0, 0, true, at(1))
	themC := uuid.New()
	push(d, c, themC, 0, 0, true, at(1))

	require.NoError(t, d.Pin(a, at(2)))
	require.NoError(t, d.Pin(b, at(3)))
	require.NoError(t, d.Pin(a, at(4)))
	assert.Equal(t, []uuid.UUID{a, b}, d.Pinned())

	pinned, changed := d.PinnedIfUpdated(at(3))
	assert.True(t, changed)
	assert.Equal(t, []uuid.UUID{a, b}, pinned)
	_, changed = d.PinnedIfUpdated(at(4))
	assert.False(t, changed)

	assert.True(t, d.Unpin(b, at(5)))
	assert.False(t, d.Unpin(b, at(6)))
	assert.ErrorIs(t, d.Pin(uuid.New(), at(7)), ErrChatNotFound)

	require.NoError(t, d.Pin(c, at(8)))
	d.Remove(themC, at(9))
	assert.Equal(t, []uuid.UUID{a}, d.Pinned(), "removing a chat unpins it")
}

func TestAggregateMetricsMergesChats(t *testing.T) {
	d := NewDirectChats()
	a, b := uuid.New(), uuid.New()
	push(d, uuid.New(), a, 0, 0, true, at(1))
	push(d, uuid.New(), a, 1, 1, false, at(2))
	push(d, uuid.New(), b, 0, 0, true, at(3))

	m := d.AggregateMetrics()
	assert.Equal(t, uint64(3), m.Messages["text"])
	assert.Equal(t, at(3), m.LastActive)
}

func TestGroupsApplyIsIdempotent(t *testing.T) {
	chatID := uuid.New()
	joined := notify.Notification{Kind: notify.KindMemberJoined, ChatID: chatID, ChatKind: models.ChatKindGroup, At: at(10), LatestEventIndex: 4}

	once := NewGroups()
	assert.True(t, once.Apply(joined))

	twice := NewGroups()
	twice.Apply(joined)
	assert.False(t, twice.Apply(joined))
	assert.Equal(t, once.snapshot(), twice.snapshot())

	grp, ok := twice.Get(chatID)
	require.True(t, ok)
	assert.Equal(t, events.EventIndex(4), grp.LatestEventIndex)

	left := notify.Notification{Kind: notify.KindMemberLeft, ChatID: chatID, At: at(20), LatestEventIndex: 7}
	assert.True(t, twice.Apply(left))
	assert.False(t, twice.Apply(left))
	assert.False(t, twice.Apply(joined), "a stale join does not resurrect the group")

	removed, _ := twice.RemovedSince(at(15))
	assert.Equal(t, []uuid.UUID{chatID}, removed)
	assert.Empty(t, twice.All())
}

func TestGroupsApplySameInstant(t *testing.T) {
	chatID := uuid.New()
	g := NewGroups()

	require.True(t, g.Apply(notify.Notification{Kind: notify.KindMemberJoined, ChatID: chatID, ChatKind: models.ChatKindGroup, At: at(10), LatestEventIndex: 4}))
	left := notify.Notification{Kind: notify.KindMemberLeft, ChatID: chatID, At: at(10), LatestEventIndex: 5}
	assert.True(t, g.Apply(left), "a later event at the same instant is not a duplicate")
	assert.Empty(t, g.All())

	rejoined := notify.Notification{Kind: notify.KindMemberJoined, ChatID: chatID, ChatKind: models.ChatKindGroup, At: at(10), LatestEventIndex: 6}
	restored := restoreGroups(g.snapshot())
	assert.False(t, restored.Apply(left))
	assert.True(t, restored.Apply(rejoined))
	grp, ok := restored.Get(chatID)
	require.True(t, ok)
	assert.Equal(t, events.EventIndex(6), grp.LatestEventIndex)
}

func TestUserUpdates(t *testing.T) {
	u := NewUser()
	_, ok := u.Updates(at(0))
	assert.False(t, ok, "an empty registry has no updates")

	them := uuid.New()
	chatID := uuid.New()
	push(u.Direct, chatID, them, 0, 0, true, at(5))
	require.NoError(t, u.Direct.Pin(chatID, at(6)))

	updates, ok := u.Updates(at(0))
	require.True(t, ok)
	assert.Equal(t, at(6), updates.Timestamp)
	assert.Len(t, updates.DirectChats, 1)
	assert.Equal(t, []uuid.UUID{chatID}, updates.PinnedDirect)
	assert.False(t, updates.ResyncRequired)

	_, ok = u.Updates(at(6))
	assert.False(t, ok)

	u.Direct.Remove(them, at(7))
	u.Direct.Prune(at(8))
	updates, ok = u.Updates(at(6))
	require.True(t, ok)
	assert.True(t, updates.ResyncRequired, "the removal at 7 was pruned away")
}

type memRepo struct {
	mu   sync.Mutex
	data map[uuid.UUID][]byte
}

func (r *memRepo) LoadRegistry(_ context.Context, userID uuid.UUID) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[userID], nil
}

func (r *memRepo) SaveRegistry(_ context.Context, userID uuid.UUID, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[userID] = data
	return nil
}

func TestStoreHandlesNotificationsAndPersists(t *testing.T) {
	repo := &memRepo{data: map[uuid.UUID][]byte{}}
	store := NewStore(repo, zap.NewNop())
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	chatID := uuid.New()
	mi := events.MessageIndex(0)
	dm := notify.Notification{
		Kind:             notify.KindDirectMessage,
		ChatID:           chatID,
		ChatKind:         models.ChatKindDirect,
		UserID:           alice,
		At:               at(1),
		LatestEventIndex: 0,
		Recipients:       []uuid.UUID{alice, bob},
		MessageIndex:     &mi,
		ContentType:      "text",
	}
	require.NoError(t, store.Handle(ctx, dm))
	require.NoError(t, store.Handle(ctx, dm))

	group := uuid.New()
	require.NoError(t, store.Handle(ctx, notify.Notification{
		Kind: notify.KindMemberJoined, ChatID: group, ChatKind: models.ChatKindGroup, UserID: bob, At: at(2), Recipients: []uuid.UUID{bob},
	}))

	// A fresh store reads the persisted state back.
	reloaded := NewStore(repo, zap.NewNop())
	require.NoError(t, reloaded.View(ctx, bob, func(u *User) error {
		c, ok := u.Direct.Get(alice)
		require.True(t, ok)
		assert.Equal(t, chatID, c.ChatID)
		assert.Equal(t, 1, c.UnreadCount())
		assert.Equal(t, uint64(1), c.Metrics.TotalMessages())

		_, ok = u.Groups.Get(group)
		assert.True(t, ok)
		return nil
	}))
	require.NoError(t, reloaded.View(ctx, alice, func(u *User) error {
		c, ok := u.Direct.Get(bob)
		require.True(t, ok)
		assert.Zero(t, c.UnreadCount())
		return nil
	}))
}
