package deltasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.UnixMilli(0).UTC()

func at(ms int64) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func newLog() *Tombstones[string] {
	return NewTombstones(func(a, b string) bool { return a < b })
}

func TestRemovedSinceScenario(t *testing.T) {
	log := newLog()
	log.Add(at(100), "C")

	ids, complete := log.Since(at(50))
	assert.True(t, complete)
	assert.Equal(t, []string{"C"}, ids)

	ids, complete = log.Since(at(150))
	assert.True(t, complete)
	assert.Empty(t, ids)
}

func TestSinceIsStrict(t *testing.T) {
	log := newLog()
	log.Add(at(100), "C")

	ids, _ := log.Since(at(100))
	assert.Empty(t, ids)
}

func TestSinceNewestFirst(t *testing.T) {
	log := newLog()
	log.Add(at(10), "a")
	log.Add(at(20), "b")
	log.Add(at(30), "c")

	ids, _ := log.Since(at(0))
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestSinceIsIdempotentAndMonotone(t *testing.T) {
	log := newLog()
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		log.Add(at(int64(10*(i+1))), id)
	}

	first, _ := log.Since(at(15))
	second, _ := log.Since(at(15))
	assert.Equal(t, first, second)

	for _, ts1 := range []int64{0, 5, 10, 25, 40} {
		for _, ts2 := range []int64{ts1 + 1, ts1 + 10, ts1 + 30} {
			wide, _ := log.Since(at(ts1))
			narrow, _ := log.Since(at(ts2))
			assert.Subset(t, wide, narrow, "since(%d) should contain since(%d)", ts1, ts2)
		}
	}
}

func TestAddOutOfOrderKeepsOrdering(t *testing.T) {
	log := newLog()
	log.Add(at(30), "c")
	log.Add(at(10), "a")
	log.Add(at(20), "b")
	log.Add(at(20), "a2")
	log.Add(at(20), "b") // duplicate

	entries := log.Entries()
	require.Len(t, entries, 4)
	var got []string
	for _, e := range entries {
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"a", "a2", "b", "c"}, got)
}

func TestPruneAdvancesHorizon(t *testing.T) {
	log := newLog()
	log.Add(at(10), "a")
	log.Add(at(20), "b")
	log.Add(at(30), "c")

	removed := log.Prune(at(20))
	assert.Equal(t, 2, removed)
	assert.Equal(t, at(20), log.Horizon())
	assert.Equal(t, 1, log.Len())

	ids, complete := log.Since(at(5))
	assert.False(t, complete, "queries older than the horizon cannot be answered exactly")
	assert.Equal(t, []string{"c"}, ids)

	ids, complete = log.Since(at(20))
	assert.True(t, complete)
	assert.Equal(t, []string{"c"}, ids)

	assert.Zero(t, log.Prune(at(1)))
}

func TestLatestAndAnySince(t *testing.T) {
	log := newLog()
	_, ok := log.Latest()
	assert.False(t, ok)
	assert.False(t, log.AnySince(epoch))

	log.Add(at(40), "x")
	latest, ok := log.Latest()
	assert.True(t, ok)
	assert.Equal(t, at(40), latest)
	assert.True(t, log.AnySince(at(39)))
	assert.False(t, log.AnySince(at(40)))
}

func TestRestore(t *testing.T) {
	src := newLog()
	src.Add(at(10), "a")
	src.Add(at(20), "b")
	src.Prune(at(10))

	dst := newLog()
	dst.Restore(src.Entries(), src.Horizon())
	assert.Equal(t, src.Entries(), dst.Entries())
	assert.Equal(t, src.Horizon(), dst.Horizon())
}

func TestTimestamped(t *testing.T) {
	pinned := NewTimestamped([]string{"a"}, at(10))

	_, ok := pinned.IfSetAfter(at(10))
	assert.False(t, ok)

	v, ok := pinned.IfSetAfter(at(9))
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, v)

	pinned.Set([]string{"b", "a"}, at(20))
	v, ok = pinned.IfSetAfter(at(10))
	assert.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, v)
}

type row struct {
	id      string
	updated time.Time
}

func (r row) LastUpdated() time.Time { return r.updated }

func TestUpdatedSince(t *testing.T) {
	rows := []row{{"a", at(10)}, {"b", at(20)}, {"c", at(30)}}

	got := UpdatedSince(rows, at(15))
	assert.Equal(t, []row{{"b", at(20)}, {"c", at(30)}}, got)
	assert.Empty(t, UpdatedSince(rows, at(30)))
	assert.NotNil(t, UpdatedSince[row](nil, at(0)))
}
