// Package registry keeps each user's top-level view: their direct chats
// and the groups and channels they belong to. Registries are updated by
// notifications from chat entities and served to clients through delta
// sync.
package registry

import (
	"bytes"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/deltasync"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/metrics"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrTooManyPins  = errors.New("too many pinned chats")
)

// MaxPinned bounds the pinned list.
const MaxPinned = 20

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// UnreadMessage maps a message from the counterpart to its event.
type UnreadMessage struct {
	MessageIndex events.MessageIndex `json:"message_index"`
	EventIndex   events.EventIndex   `json:"event_index"`
}

// DirectChat is one user's view of a conversation with Them.
type DirectChat struct {
	ChatID             uuid.UUID           `json:"chat_id"`
	Them               uuid.UUID           `json:"them"`
	CreatedAt          time.Time           `json:"created_at"`
	LatestEventIndex   events.EventIndex   `json:"latest_event_index"`
	LatestMessageIndex events.MessageIndex `json:"latest_message_index"`
	// ReadUpTo is the newest message index this user has read.
	ReadUpTo *events.MessageIndex `json:"read_up_to,omitempty"`
	// Unread lists the counterpart's messages above ReadUpTo, ascending.
	Unread    []UnreadMessage     `json:"unread"`
	Metrics   metrics.ChatMetrics `json:"metrics"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func (c DirectChat) LastUpdated() time.Time {
	return c.UpdatedAt
}

func (c DirectChat) ChatMetrics() metrics.ChatMetrics {
	return c.Metrics
}

func (c DirectChat) UnreadCount() int {
	return len(c.Unread)
}

func (c DirectChat) clone() DirectChat {
	c.Unread = slices.Clone(c.Unread)
	c.Metrics = c.Metrics.Clone()
	if c.ReadUpTo != nil {
		r := *c.ReadUpTo
		c.ReadUpTo = &r
	}
	return c
}

// DirectChats is one user's set of direct chats keyed by counterpart.
// Not safe for concurrent use.
type DirectChats struct {
	chats   map[uuid.UUID]*DirectChat
	byChat  map[uuid.UUID]uuid.UUID
	pinned  deltasync.Timestamped[[]uuid.UUID]
	removed *deltasync.Tombstones[uuid.UUID]
}

func NewDirectChats() *DirectChats {
	return &DirectChats{
		chats:   make(map[uuid.UUID]*DirectChat),
		byChat:  make(map[uuid.UUID]uuid.UUID),
		pinned:  deltasync.NewTimestamped([]uuid.UUID{}, time.Time{}),
		removed: deltasync.NewTombstones(lessID),
	}
}

// PushArgs describes one message in a direct chat as seen by the
// registry owner.
type PushArgs struct {
	ChatID       uuid.UUID
	Them         uuid.UUID
	EventIndex   events.EventIndex
	MessageIndex events.MessageIndex
	// Mine is true when the registry owner sent the message.
	Mine        bool
	ContentType string
	IsReply     bool
	Now         time.Time
}

// PushMessage records a message, creating the chat on first contact.
// Own messages move the read marker; the counterpart's are added to the
// unread list. Replaying the same message is a no-op.
func (d *DirectChats) PushMessage(args PushArgs) DirectChat {
	c, ok := d.chats[args.Them]
	if !ok {
		c = &DirectChat{
			ChatID:    args.ChatID,
			Them:      args.Them,
			CreatedAt: args.Now,
			Unread:    []UnreadMessage{},
		}
		d.chats[args.Them] = c
		d.byChat[args.ChatID] = args.Them
	} else if args.EventIndex <= c.LatestEventIndex {
		return c.clone()
	}

	c.LatestEventIndex = args.EventIndex
	c.LatestMessageIndex = args.MessageIndex
	c.Metrics.RecordMessage(args.ContentType, args.IsReply, false, args.Now)
	if args.Mine {
		c.markRead(args.MessageIndex)
	} else if c.ReadUpTo == nil || args.MessageIndex > *c.ReadUpTo {
		c.Unread = append(c.Unread, UnreadMessage{MessageIndex: args.MessageIndex, EventIndex: args.EventIndex})
	}
	c.UpdatedAt = args.Now
	return c.clone()
}

func (c *DirectChat) markRead(upTo events.MessageIndex) bool {
	if c.ReadUpTo != nil && *c.ReadUpTo >= upTo {
		return false
	}
	r := upTo
	c.ReadUpTo = &r
	i := 0
	for i < len(c.Unread) && c.Unread[i].MessageIndex <= upTo {
		i++
	}
	c.Unread = append(c.Unread[:0:0], c.Unread[i:]...)
	return true
}

// MarkReadUpTo raises the read marker. It never moves backwards.
func (d *DirectChats) MarkReadUpTo(them uuid.UUID, upTo events.MessageIndex, now time.Time) (bool, error) {
	c, ok := d.chats[them]
	if !ok {
		return false, ErrChatNotFound
	}
	if !c.markRead(upTo) {
		return false, nil
	}
	c.UpdatedAt = now
	return true, nil
}

func (d *DirectChats) Get(them uuid.UUID) (DirectChat, bool) {
	c, ok := d.chats[them]
	if !ok {
		return DirectChat{}, false
	}
	return c.clone(), true
}

// ByChatID resolves a chat id to the counterpart.
func (d *DirectChats) ByChatID(chatID uuid.UUID) (uuid.UUID, bool) {
	them, ok := d.byChat[chatID]
	return them, ok
}

func (d *DirectChats) All() []DirectChat {
	out := make([]DirectChat, 0, len(d.chats))
	for _, c := range d.chats {
		out = append(out, c.clone())
	}
	slices.SortFunc(out, func(a, b DirectChat) int { return bytes.Compare(a.Them[:], b.Them[:]) })
	return out
}

func (d *DirectChats) Len() int {
	return len(d.chats)
}

// Remove deletes the chat with them and records a tombstone.
func (d *DirectChats) Remove(them uuid.UUID, now time.Time) bool {
	c, ok := d.chats[them]
	if !ok {
		return false
	}
	delete(d.chats, them)
	delete(d.byChat, c.ChatID)
	d.removed.Add(now, c.ChatID)
	if i := slices.Index(d.pinned.Value, c.ChatID); i >= 0 {
		d.pinned.Set(slices.Delete(slices.Clone(d.pinned.Value), i, i+1), now)
	}
	return true
}

// Pin moves chatID to the front of the pinned list.
func (d *DirectChats) Pin(chatID uuid.UUID, now time.Time) error {
	if _, ok := d.byChat[chatID]; !ok {
		return ErrChatNotFound
	}
	next := make([]uuid.UUID, 0, len(d.pinned.Value)+1)
	next = append(next, chatID)
	for _, id := range d.pinned.Value {
		if id != chatID {
			next = append(next, id)
		}
	}
	if len(next) > MaxPinned {
		return ErrTooManyPins
	}
	d.pinned.Set(next, now)
	return nil
}

// Unpin reports whether chatID was pinned.
func (d *DirectChats) Unpin(chatID uuid.UUID, now time.Time) bool {
	i := slices.Index(d.pinned.Value, chatID)
	if i < 0 {
		return false
	}
	d.pinned.Set(slices.Delete(slices.Clone(d.pinned.Value), i, i+1), now)
	return true
}

func (d *DirectChats) Pinned() []uuid.UUID {
	return slices.Clone(d.pinned.Value)
}

// PinnedIfUpdated returns the pinned list if it changed after since.
func (d *DirectChats) PinnedIfUpdated(since time.Time) ([]uuid.UUID, bool) {
	v, ok := d.pinned.IfSetAfter(since)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

func (d *DirectChats) UpdatedSince(since time.Time) []DirectChat {
	return deltasync.UpdatedSince(d.All(), since)
}

// RemovedSince returns chat ids removed strictly after since, newest
// first. complete is false when since predates the retention horizon.
func (d *DirectChats) RemovedSince(since time.Time) ([]uuid.UUID, bool) {
	return d.removed.Since(since)
}

// AnyUpdated reports whether anything in the registry changed after since.
func (d *DirectChats) AnyUpdated(since time.Time) bool {
	return d.LastUpdated().After(since)
}

func (d *DirectChats) LastUpdated() time.Time {
	latest := d.pinned.Timestamp
	if ts, ok := d.removed.Latest(); ok && ts.After(latest) {
		latest = ts
	}
	for _, c := range d.chats {
		if c.UpdatedAt.After(latest) {
			latest = c.UpdatedAt
		}
	}
	return latest
}

// AggregateMetrics merges the metrics of every direct chat.
func (d *DirectChats) AggregateMetrics() metrics.ChatMetrics {
	return metrics.Aggregate(d.All()...)
}

// Prune drops removal tombstones at or before cutoff.
func (d *DirectChats) Prune(cutoff time.Time) int {
	return d.removed.Prune(cutoff)
}

type directSnapshot struct {
	Chats          []DirectChat                     `json:"chats"`
	Pinned         []uuid.UUID                      `json:"pinned"`
	PinnedAt       time.Time                        `json:"pinned_at"`
	Removed        []deltasync.Tombstone[uuid.UUID] `json:"removed"`
	RemovedHorizon time.Time                        `json:"removed_horizon"`
}

func (d *DirectChats) snapshot() directSnapshot {
	return directSnapshot{
		Chats:          d.All(),
		Pinned:         d.Pinned(),
		PinnedAt:       d.pinned.Timestamp,
		Removed:        d.removed.Entries(),
		RemovedHorizon: d.removed.Horizon(),
	}
}

func restoreDirect(s directSnapshot) *DirectChats {
	d := NewDirectChats()
	for i := range s.Chats {
		c := s.Chats[i].clone()
		if c.Unread == nil {
			c.Unread = []UnreadMessage{}
		}
		d.chats[c.Them] = &c
		d.byChat[c.ChatID] = c.Them
	}
	pinned := s.Pinned
	if pinned == nil {
		pinned = []uuid.UUID{}
	}
	d.pinned = deltasync.NewTimestamped(pinned, s.PinnedAt)
	d.removed.Restore(s.Removed, s.RemovedHorizon)
	return d
}
