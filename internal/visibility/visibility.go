// Package visibility computes and enforces per-member history cutoffs.
package visibility

import (
	"github.com/lalith-99/echocore/internal/events"
)

// Window is the lower bound of what a member may read. Both indexes are
// inclusive: events at or above MinEventIndex and messages at or above
// MinMessageIndex are visible.
type Window struct {
	MinEventIndex   events.EventIndex   `json:"min_visible_event_index"`
	MinMessageIndex events.MessageIndex `json:"min_visible_message_index"`
}

// Everything lets a member read the entity's whole history.
var Everything = Window{}

// Policy is the entity-wide history setting applied to new joiners.
type Policy struct {
	// HistoryVisibleToNewJoiners grants new members the full history
	// (or DefaultsForNewMembers when set).
	HistoryVisibleToNewJoiners bool
	// DefaultsForNewMembers, when non-nil and history is visible, is the
	// cutoff given to members that join without an invitation.
	DefaultsForNewMembers *Window
}

// ForNewMember picks the cutoff for a member joining now. An invitation
// wins over the entity defaults; with private history the cutoff is next,
// the indexes the next pushed event and message will receive. The result
// never exceeds next.
func ForNewMember(invitation *Window, policy Policy, next Window) Window {
	var w Window
	switch {
	case invitation != nil:
		w = *invitation
	case !policy.HistoryVisibleToNewJoiners:
		w = next
	case policy.DefaultsForNewMembers != nil:
		w = *policy.DefaultsForNewMembers
	default:
		w = Everything
	}
	return w.clamp(next)
}

func (w Window) clamp(next Window) Window {
	if w.MinEventIndex > next.MinEventIndex {
		w.MinEventIndex = next.MinEventIndex
	}
	if w.MinMessageIndex > next.MinMessageIndex {
		w.MinMessageIndex = next.MinMessageIndex
	}
	return w
}

// Raise moves the cutoff up to other. It never lowers either index.
func (w Window) Raise(other Window) Window {
	return Window{
		MinEventIndex:   max(w.MinEventIndex, other.MinEventIndex),
		MinMessageIndex: max(w.MinMessageIndex, other.MinMessageIndex),
	}
}

func (w Window) AllowsEvent(idx events.EventIndex) bool {
	return idx >= w.MinEventIndex
}

func (w Window) AllowsMessage(idx events.MessageIndex) bool {
	return idx >= w.MinMessageIndex
}

// Next reports the current allocator position of log as a Window.
func Next(log *events.Log) Window {
	e, m := log.NextIndexes()
	return Window{MinEventIndex: e, MinMessageIndex: m}
}
