// Package deltasync provides the building blocks for "what changed since
// T" queries: last-modified stamped values, an ordered tombstone log of
// removals, and updated-since filters.
//
// Callers always receive full snapshots of changed entities, never
// deltas of deltas.
package deltasync

import (
	"sort"
	"time"
)

// Timestamped pairs a value with the time it was last set.
type Timestamped[T any] struct {
	Value     T         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTimestamped[T any](v T, now time.Time) Timestamped[T] {
	return Timestamped[T]{Value: v, Timestamp: now}
}

// Set replaces the value and stamps it with now.
func (t *Timestamped[T]) Set(v T, now time.Time) {
	t.Value = v
	t.Timestamp = now
}

// IfSetAfter returns the value if it was set strictly after since.
func (t Timestamped[T]) IfSetAfter(since time.Time) (T, bool) {
	if t.Timestamp.After(since) {
		return t.Value, true
	}
	var zero T
	return zero, false
}

// Updatable is anything that carries its own last-modified time.
type Updatable interface {
	LastUpdated() time.Time
}

// UpdatedSince keeps the items modified strictly after since, preserving
// input order.
func UpdatedSince[T Updatable](items []T, since time.Time) []T {
	out := make([]T, 0)
	for _, item := range items {
		if item.LastUpdated().After(since) {
			out = append(out, item)
		}
	}
	return out
}

// Tombstone records that ID was removed at Timestamp.
type Tombstone[K comparable] struct {
	Timestamp time.Time `json:"timestamp"`
	ID        K         `json:"id"`
}

// Tombstones is an append-mostly log of removals ordered by
// (timestamp, id). Removals are normally recorded with a non-decreasing
// clock, so Add is an append; out-of-order inserts are placed by binary
// search.
//
// Entries older than the retention horizon may be pruned. A query whose
// since is older than the pruned horizon cannot be answered exactly; the
// caller is told to resync instead.
type Tombstones[K comparable] struct {
	entries []Tombstone[K]
	less    func(a, b K) bool
	// horizon is the newest timestamp that has been pruned away.
	horizon time.Time
}

// NewTombstones builds an empty log. less orders ids that share a
// timestamp.
func NewTombstones[K comparable](less func(a, b K) bool) *Tombstones[K] {
	return &Tombstones[K]{less: less}
}

func (t *Tombstones[K]) before(a, b Tombstone[K]) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return t.less(a.ID, b.ID)
}

// Add records a removal. Adding the same (timestamp, id) twice is a no-op.
func (t *Tombstones[K]) Add(ts time.Time, id K) {
	entry := Tombstone[K]{Timestamp: ts, ID: id}
	n := len(t.entries)
	if n == 0 || t.before(t.entries[n-1], entry) {
		t.entries = append(t.entries, entry)
		return
	}
	i := sort.Search(n, func(i int) bool { return !t.before(t.entries[i], entry) })
	if i < n && t.entries[i].ID == id && t.entries[i].Timestamp.Equal(ts) {
		return
	}
	t.entries = append(t.entries, Tombstone[K]{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
}

// Since returns the ids removed strictly after since, newest first. It
// walks the log backwards and stops at the first entry at or before since.
//
// complete is false when since is older than the pruned horizon: some
// removals in (since, horizon] are no longer known and the caller must
// fall back to a full refresh.
func (t *Tombstones[K]) Since(since time.Time) (ids []K, complete bool) {
	ids = make([]K, 0)
	for i := len(t.entries) - 1; i >= 0; i-- {
		if !t.entries[i].Timestamp.After(since) {
			break
		}
		ids = append(ids, t.entries[i].ID)
	}
	return ids, !since.Before(t.horizon)
}

// Latest returns the timestamp of the newest removal.
func (t *Tombstones[K]) Latest() (time.Time, bool) {
	if len(t.entries) == 0 {
		return time.Time{}, false
	}
	return t.entries[len(t.entries)-1].Timestamp, true
}

// AnySince reports whether something was removed strictly after since.
func (t *Tombstones[K]) AnySince(since time.Time) bool {
	latest, ok := t.Latest()
	return ok && latest.After(since)
}

// Prune drops entries at or before cutoff and advances the horizon.
// It returns the number of entries removed.
func (t *Tombstones[K]) Prune(cutoff time.Time) int {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Timestamp.After(cutoff) })
	if i == 0 {
		return 0
	}
	t.horizon = t.entries[i-1].Timestamp
	t.entries = append(t.entries[:0:0], t.entries[i:]...)
	return i
}

// Horizon is the newest pruned timestamp; zero if nothing was pruned.
func (t *Tombstones[K]) Horizon() time.Time {
	return t.horizon
}

func (t *Tombstones[K]) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the log in ascending order.
func (t *Tombstones[K]) Entries() []Tombstone[K] {
	return append([]Tombstone[K](nil), t.entries...)
}

// Restore replaces the log content, e.g. after loading a snapshot.
func (t *Tombstones[K]) Restore(entries []Tombstone[K], horizon time.Time) {
	t.entries = t.entries[:0]
	for _, e := range entries {
		t.Add(e.Timestamp, e.ID)
	}
	t.horizon = horizon
}
