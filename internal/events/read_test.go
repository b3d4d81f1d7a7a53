package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexes(evs []Event) []EventIndex {
	out := make([]EventIndex, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Index)
	}
	return out
}

func span(from, to EventIndex) []EventIndex {
	var out []EventIndex
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// logOf builds a main stream of n messages at one-second spacing.
func logOf(t *testing.T, n int) *Log {
	t.Helper()
	l := NewLog()
	for i := 0; i < n; i++ {
		mustPush(t, l, Main, msg(alice, "m"), t0.Add(time.Duration(i)*time.Second))
	}
	return l
}

func TestWindowRespectsCutoffScenario(t *testing.T) {
	l := logOf(t, 11) // indexes 0..10

	got, err := l.Window(WindowQuery{Stream: Main, Start: 0, MaxEvents: 20, MaxMessages: 20, MinVisible: 5, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(5, 10), indexes(got))
}

func TestWindowNeverReturnsBelowCutoff(t *testing.T) {
	l := logOf(t, 30)
	for _, dir := range []Direction{Centered, Ascending, Descending} {
		for start := EventIndex(0); start < 30; start += 3 {
			got, err := l.Window(WindowQuery{Stream: Main, Start: start, Direction: dir, MaxEvents: 50, MinVisible: 12, Now: t0})
			require.NoError(t, err)
			for _, ev := range got {
				assert.GreaterOrEqual(t, ev.Index, EventIndex(12), "dir=%d start=%d", dir, start)
			}
		}
	}
}

func TestWindowCenteredIsBalanced(t *testing.T) {
	l := logOf(t, 21)

	got, err := l.Window(WindowQuery{Stream: Main, Start: 10, MaxEvents: 5, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(8, 12), indexes(got))
}

func TestWindowCenteredShiftsAtEdges(t *testing.T) {
	l := logOf(t, 10)

	got, err := l.Window(WindowQuery{Stream: Main, Start: 9, MaxEvents: 4, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(6, 9), indexes(got))

	got, err = l.Window(WindowQuery{Stream: Main, Start: 50, MaxEvents: 3, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(7, 9), indexes(got), "a mid point past the end anchors on the newest event")
}

func TestWindowStopsAtMessageCap(t *testing.T) {
	l := NewLog()
	// m j m j m j m : messages at 0,2,4,6
	for i := 0; i < 7; i++ {
		var p Payload = msg(alice, "m")
		if i%2 == 1 {
			p = MemberJoined{UserID: uuid.New()}
		}
		mustPush(t, l, Main, p, t0)
	}

	got, err := l.Window(WindowQuery{Stream: Main, Start: 0, Direction: Ascending, MaxEvents: 100, MaxMessages: 2, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(0, 2), indexes(got))
}

func TestWindowDirections(t *testing.T) {
	l := logOf(t, 10)

	asc, err := l.Window(WindowQuery{Stream: Main, Start: 3, Direction: Ascending, MaxEvents: 4, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(3, 6), indexes(asc))

	desc, err := l.Window(WindowQuery{Stream: Main, Start: 3, Direction: Descending, MaxEvents: 3, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(1, 3), indexes(desc), "descending reads are returned oldest first")

	all, err := l.Window(WindowQuery{Stream: Main, Start: ^EventIndex(0), Direction: Descending, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(0, 9), indexes(all))
}

func TestWindowSkipsExpired(t *testing.T) {
	l := NewLog()
	ttl := time.Minute
	mustPush(t, l, Main, msg(alice, "keep"), t0)
	l.SetTTL(&ttl)
	mustPush(t, l, Main, msg(alice, "expires"), t0)
	mustPush(t, l, Main, ReactionAdded{MessageIndex: 1, UserID: bob, Reaction: "x"}, t0)
	l.SetTTL(nil)
	mustPush(t, l, Main, msg(alice, "keep too"), t0)

	got, err := l.Window(WindowQuery{Stream: Main, Direction: Ascending, Now: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []EventIndex{0, 3}, indexes(got))

	got, err = l.Window(WindowQuery{Stream: Main, Direction: Ascending, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, span(0, 3), indexes(got))
}

func TestWindowEmpty(t *testing.T) {
	l := NewLog()
	got, err := l.Window(WindowQuery{Stream: Main, MaxEvents: 10, Now: t0})
	require.NoError(t, err)
	assert.Empty(t, got)

	l = logOf(t, 3)
	got, err = l.Window(WindowQuery{Stream: Main, MaxEvents: 10, MinVisible: 3, Now: t0})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestByIndexOmitsMissingAndForbidden(t *testing.T) {
	l := logOf(t, 6)

	got, err := l.ByIndex(Main, []EventIndex{5, 1, 3, 99, 3, 4}, 3, t0)
	require.NoError(t, err)
	assert.Equal(t, []EventIndex{3, 4, 5}, indexes(got))

	_, err = l.ByIndex(Thread(0), []EventIndex{1}, 0, t0)
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestThreadWindowUsesGlobalCutoff(t *testing.T) {
	l := NewLog()
	root := mustPush(t, l, Main, msg(alice, "root"), t0)
	thread := Thread(*root.MessageIndex)
	mustPush(t, l, thread, msg(bob, "r1"), t0) // 1
	mustPush(t, l, Main, msg(alice, "x"), t0)  // 2
	mustPush(t, l, thread, msg(bob, "r2"), t0) // 3

	got, err := l.Window(WindowQuery{Stream: thread, Direction: Ascending, MinVisible: 2, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, []EventIndex{3}, indexes(got))
}
