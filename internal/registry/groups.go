package registry

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/deltasync"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
)

// Group is a group or channel the user belongs to.
type Group struct {
	ChatID           uuid.UUID         `json:"chat_id"`
	Kind             models.ChatKind   `json:"kind"`
	JoinedAt         time.Time         `json:"joined_at"`
	LatestEventIndex events.EventIndex `json:"latest_event_index"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (g Group) LastUpdated() time.Time {
	return g.UpdatedAt
}

// Groups is one user's set of joined groups and channels, maintained
// from member_joined and member_left notifications.
type Groups struct {
	groups map[uuid.UUID]*Group
	// applied is the event index of the newest notification applied per
	// chat. Anything at or before it is a duplicate or stale.
	applied map[uuid.UUID]events.EventIndex
	removed *deltasync.Tombstones[uuid.UUID]
}

func NewGroups() *Groups {
	return &Groups{
		groups:  make(map[uuid.UUID]*Group),
		applied: make(map[uuid.UUID]events.EventIndex),
		removed: deltasync.NewTombstones(lessID),
	}
}

// Apply folds a membership notification into the set. It reports
// whether anything changed. Applying the same notification again, or an
// older one, changes nothing.
func (g *Groups) Apply(n notify.Notification) bool {
	if n.Kind != notify.KindMemberJoined && n.Kind != notify.KindMemberLeft {
		return false
	}
	if last, ok := g.applied[n.ChatID]; ok && n.LatestEventIndex <= last {
		return false
	}
	g.applied[n.ChatID] = n.LatestEventIndex

	switch n.Kind {
	case notify.KindMemberJoined:
		g.groups[n.ChatID] = &Group{
			ChatID:           n.ChatID,
			Kind:             n.ChatKind,
			JoinedAt:         n.At,
			LatestEventIndex: n.LatestEventIndex,
			UpdatedAt:        n.At,
		}
		return true
	default:
		if _, ok := g.groups[n.ChatID]; !ok {
			return false
		}
		delete(g.groups, n.ChatID)
		g.removed.Add(n.At, n.ChatID)
		return true
	}
}

func (g *Groups) Get(chatID uuid.UUID) (Group, bool) {
	grp, ok := g.groups[chatID]
	if !ok {
		return Group{}, false
	}
	return *grp, true
}

func (g *Groups) All() []Group {
	out := make([]Group, 0, len(g.groups))
	for _, grp := range g.groups {
		out = append(out, *grp)
	}
	slices.SortFunc(out, func(a, b Group) int { return bytes.Compare(a.ChatID[:], b.ChatID[:]) })
	return out
}

func (g *Groups) UpdatedSince(since time.Time) []Group {
	return deltasync.UpdatedSince(g.All(), since)
}

func (g *Groups) RemovedSince(since time.Time) ([]uuid.UUID, bool) {
	return g.removed.Since(since)
}

func (g *Groups) LastUpdated() time.Time {
	var latest time.Time
	if ts, ok := g.removed.Latest(); ok {
		latest = ts
	}
	for _, grp := range g.groups {
		if grp.UpdatedAt.After(latest) {
			latest = grp.UpdatedAt
		}
	}
	return latest
}

func (g *Groups) Prune(cutoff time.Time) int {
	return g.removed.Prune(cutoff)
}

type appliedMark struct {
	ChatID     uuid.UUID         `json:"chat_id"`
	EventIndex events.EventIndex `json:"event_index"`
}

type groupsSnapshot struct {
	Groups         []Group                          `json:"groups"`
	Applied        []appliedMark                    `json:"applied_events"`
	Removed        []deltasync.Tombstone[uuid.UUID] `json:"removed"`
	RemovedHorizon time.Time                        `json:"removed_horizon"`
}

func (g *Groups) snapshot() groupsSnapshot {
	s := groupsSnapshot{
		Groups:         g.All(),
		Applied:        make([]appliedMark, 0, len(g.applied)),
		Removed:        g.removed.Entries(),
		RemovedHorizon: g.removed.Horizon(),
	}
	for id, idx := range g.applied {
		s.Applied = append(s.Applied, appliedMark{ChatID: id, EventIndex: idx})
	}
	slices.SortFunc(s.Applied, func(a, b appliedMark) int { return bytes.Compare(a.ChatID[:], b.ChatID[:]) })
	return s
}

func restoreGroups(s groupsSnapshot) *Groups {
	g := NewGroups()
	for i := range s.Groups {
		grp := s.Groups[i]
		g.groups[grp.ChatID] = &grp
	}
	for _, a := range s.Applied {
		g.applied[a.ChatID] = a.EventIndex
	}
	g.removed.Restore(s.Removed, s.RemovedHorizon)
	return g
}
