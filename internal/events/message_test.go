package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFoldsOverlays(t *testing.T) {
	l := NewLog()
	mustPush(t, l, Main, msg(alice, "draft"), t0)
	mustPush(t, l, Main, MessageEdited{MessageIndex: 0, EditedBy: alice, Content: text("final")}, t0.Add(time.Second))
	mustPush(t, l, Main, ReactionAdded{MessageIndex: 0, UserID: bob, Reaction: "+1"}, t0.Add(2*time.Second))
	mustPush(t, l, Main, ReactionAdded{MessageIndex: 0, UserID: alice, Reaction: "+1"}, t0.Add(3*time.Second))
	mustPush(t, l, Main, ReactionAdded{MessageIndex: 0, UserID: alice, Reaction: "+1"}, t0.Add(3*time.Second))
	mustPush(t, l, Main, ReactionAdded{MessageIndex: 0, UserID: bob, Reaction: "heart"}, t0.Add(4*time.Second))
	mustPush(t, l, Main, ReactionRemoved{MessageIndex: 0, UserID: bob, Reaction: "heart"}, t0.Add(5*time.Second))

	v, err := l.Message(Main, 0, 0, t0)
	require.NoError(t, err)
	assert.True(t, v.Edited)
	assert.Equal(t, text("final"), v.Content)
	assert.Equal(t, []Reaction{{Reaction: "+1", Users: []uuid.UUID{bob, alice}}}, v.Reactions)
	require.NotNil(t, v.LastUpdated)
	assert.Equal(t, t0.Add(5*time.Second), *v.LastUpdated)
	assert.Nil(t, v.Thread)
}

func TestMessageDeleteUndelete(t *testing.T) {
	l := NewLog()
	mustPush(t, l, Main, msg(alice, "oops"), t0)
	mustPush(t, l, Main, MessageDeleted{MessageIndex: 0, DeletedBy: bob}, t0.Add(time.Second))

	v, err := l.Message(Main, 0, 0, t0)
	require.NoError(t, err)
	require.NotNil(t, v.Deleted)
	assert.Equal(t, bob, v.Deleted.By)
	assert.Equal(t, "deleted", v.Redacted().Content.Type)
	assert.Equal(t, "text", v.Content.Type, "the log keeps the original content")

	mustPush(t, l, Main, MessageUndeleted{MessageIndex: 0, UndeletedBy: bob}, t0.Add(2*time.Second))
	v, err = l.Message(Main, 0, 0, t0)
	require.NoError(t, err)
	assert.Nil(t, v.Deleted)
	assert.Equal(t, text("oops"), v.Redacted().Content)
}

func TestMessageHiddenByCutoffOrExpiry(t *testing.T) {
	l := NewLog()
	ttl := time.Minute
	mustPush(t, l, Main, msg(alice, "old"), t0)
	l.SetTTL(&ttl)
	mustPush(t, l, Main, msg(alice, "short lived"), t0)

	_, err := l.Message(Main, 0, 1, t0)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = l.Message(Main, 1, 0, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = l.Message(Main, 7, 0, t0)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	views, err := l.Messages(Main, []MessageIndex{1, 0, 7, 1}, 0, t0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, MessageIndex(1), views[0].MessageIndex)
	assert.Equal(t, MessageIndex(0), views[1].MessageIndex)
}

func TestThreadMessageLookup(t *testing.T) {
	l := NewLog()
	root := mustPush(t, l, Main, msg(alice, "root"), t0)
	reply := mustPush(t, l, Thread(*root.MessageIndex), msg(bob, "reply"), t0)

	v, err := l.Message(Thread(*root.MessageIndex), *reply.MessageIndex, 0, t0)
	require.NoError(t, err)
	assert.Equal(t, bob, v.Sender)
	assert.Nil(t, v.Thread)

	ei, err := l.EventIndexForMessage(Thread(*root.MessageIndex), *reply.MessageIndex)
	require.NoError(t, err)
	assert.Equal(t, reply.Index, ei)

	assert.Equal(t, []MessageIndex{0}, l.ThreadsUpdatedSince(t0.Add(-time.Second)))
	assert.Empty(t, l.ThreadsUpdatedSince(t0))
}
