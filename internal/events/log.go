// Package events is the append-only event log of one chat.
//
// A Log holds one main stream and zero or more thread streams, each
// rooted at a main-stream message. All streams draw their EventIndex and
// MessageIndex values from one allocator pair owned by the Log, so an
// index identifies an event unambiguously across the whole chat and a
// member's visibility cutoff means the same thing in every stream.
//
// Events are never modified or removed. Edits, deletes, undeletes and
// reactions are new events layered over the message they reference;
// readers fold them when materializing a message.
//
// A Log is not safe for concurrent use. It is owned by exactly one chat
// actor, which serializes every call.
package events

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/metrics"
)

type stream struct {
	id     StreamID
	events []Event
	// byMessage maps a message index to its position in events.
	byMessage map[MessageIndex]int
	// overlays lists, per message, the positions of the events that
	// layer over it, in append order.
	overlays    map[MessageIndex][]int
	metrics     metrics.ChatMetrics
	summary     ThreadSummary
	lastUpdated time.Time
}

func newStream(id StreamID) *stream {
	return &stream{
		id:        id,
		byMessage: make(map[MessageIndex]int),
		overlays:  make(map[MessageIndex][]int),
	}
}

// search returns the position of the first event with Index >= idx.
func (s *stream) search(idx EventIndex) int {
	return sort.Search(len(s.events), func(i int) bool { return s.events[i].Index >= idx })
}

func (s *stream) append(ev Event) {
	pos := len(s.events)
	s.events = append(s.events, ev)
	if ev.MessageIndex != nil {
		s.byMessage[*ev.MessageIndex] = pos
	}
	if ov, ok := ev.Payload.(overlay); ok {
		s.overlays[ov.Target()] = append(s.overlays[ov.Target()], pos)
	}
	s.record(ev)
	if ev.Timestamp.After(s.lastUpdated) {
		s.lastUpdated = ev.Timestamp
	}
}

func (s *stream) record(ev Event) {
	now := ev.Timestamp
	switch p := ev.Payload.(type) {
	case MessageSent:
		s.metrics.RecordMessage(p.Content.Type, p.RepliesTo != nil, s.id.thread, now)
		if s.id.thread {
			s.summary.ReplyCount++
			s.summary.addParticipant(p.Sender)
		}
	case MessageEdited:
		s.metrics.RecordEdit(now)
	case MessageDeleted:
		s.metrics.RecordDelete(now)
	case MessageUndeleted:
		s.metrics.RecordUndelete(now)
	case ReactionAdded:
		s.metrics.RecordReaction(true, now)
	case ReactionRemoved:
		s.metrics.RecordReaction(false, now)
	}
	if s.id.thread {
		s.summary.LatestEventIndex = ev.Index
		s.summary.LatestEventTimestamp = ev.Timestamp
	}
}

// ThreadSummary describes the replies to a thread root.
type ThreadSummary struct {
	ReplyCount           int         `json:"reply_count"`
	LatestEventIndex     EventIndex  `json:"latest_event_index"`
	LatestEventTimestamp time.Time   `json:"latest_event_timestamp"`
	ParticipantIDs       []uuid.UUID `json:"participant_ids"`
}

func (t *ThreadSummary) addParticipant(id uuid.UUID) {
	for _, p := range t.ParticipantIDs {
		if p == id {
			return
		}
	}
	t.ParticipantIDs = append(t.ParticipantIDs, id)
}

// Log is the event log of one chat.
type Log struct {
	nextEvent   EventIndex
	nextMessage MessageIndex
	main        *stream
	threads     map[MessageIndex]*stream
	ttl         *time.Duration
	lastUpdated time.Time
}

func NewLog() *Log {
	return &Log{
		main:    newStream(Main),
		threads: make(map[MessageIndex]*stream),
	}
}

// SetTTL sets the time-to-live applied to messages pushed from now on.
// A nil ttl disables expiry. Already pushed events keep their expiry.
func (l *Log) SetTTL(ttl *time.Duration) {
	if ttl == nil {
		l.ttl = nil
		return
	}
	d := *ttl
	l.ttl = &d
}

func (l *Log) TTL() *time.Duration {
	if l.ttl == nil {
		return nil
	}
	d := *l.ttl
	return &d
}

// NextIndexes returns the indexes the next pushed event and message
// would receive.
func (l *Log) NextIndexes() (EventIndex, MessageIndex) {
	return l.nextEvent, l.nextMessage
}

// LatestEventIndex returns the index of the newest event, or false when
// the log is empty.
func (l *Log) LatestEventIndex() (EventIndex, bool) {
	if l.nextEvent == 0 {
		return 0, false
	}
	return l.nextEvent - 1, true
}

// LastUpdated is the timestamp of the newest event in any stream.
func (l *Log) LastUpdated() time.Time {
	return l.lastUpdated
}

func (l *Log) lookup(id StreamID) (*stream, error) {
	root, isThread := id.Root()
	if !isThread {
		return l.main, nil
	}
	s, ok := l.threads[root]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return s, nil
}

// streamForPush returns the target stream, creating a thread stream on
// its first event. A thread can only be rooted at an existing main-stream
// message.
func (l *Log) streamForPush(id StreamID) (*stream, error) {
	root, isThread := id.Root()
	if !isThread {
		return l.main, nil
	}
	if s, ok := l.threads[root]; ok {
		return s, nil
	}
	if _, ok := l.main.byMessage[root]; !ok {
		return nil, ErrThreadNotFound
	}
	s := newStream(id)
	l.threads[root] = s
	return s, nil
}

// Push appends payload to the chosen stream and returns the stored event.
//
// Every event consumes the next EventIndex; MessageSent payloads also
// consume the next MessageIndex. Overlay payloads must reference a message
// of the same stream.
func (l *Log) Push(id StreamID, payload Payload, correlationID uint64, now time.Time) (Event, error) {
	s, err := l.streamForPush(id)
	if err != nil {
		return Event{}, err
	}
	if ov, ok := payload.(overlay); ok {
		if _, found := s.byMessage[ov.Target()]; !found {
			return Event{}, ErrMessageNotFound
		}
	}

	ev := Event{
		Index:         l.nextEvent,
		Timestamp:     now,
		CorrelationID: correlationID,
		Payload:       payload,
	}
	if _, isMessage := payload.(MessageSent); isMessage {
		mi := l.nextMessage
		ev.MessageIndex = &mi
		l.nextMessage++
		if l.ttl != nil {
			expires := now.Add(*l.ttl)
			ev.ExpiresAt = &expires
		}
	}
	l.nextEvent++

	s.append(ev)
	if now.After(l.lastUpdated) {
		l.lastUpdated = now
	}
	return ev, nil
}

// Metrics folds the metrics of every stream.
func (l *Log) Metrics() metrics.ChatMetrics {
	total := l.main.metrics.Clone()
	for _, s := range l.threads {
		total = total.Merge(s.metrics)
	}
	return total
}

// ThreadSummary returns the summary of the thread rooted at root.
func (l *Log) ThreadSummary(root MessageIndex) (ThreadSummary, bool) {
	s, ok := l.threads[root]
	if !ok {
		return ThreadSummary{}, false
	}
	out := s.summary
	out.ParticipantIDs = append([]uuid.UUID(nil), s.summary.ParticipantIDs...)
	return out, true
}

// ThreadsUpdatedSince lists the roots of threads with events strictly
// after since.
func (l *Log) ThreadsUpdatedSince(since time.Time) []MessageIndex {
	roots := make([]MessageIndex, 0)
	for root, s := range l.threads {
		if s.lastUpdated.After(since) {
			roots = append(roots, root)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

// EventIndexForMessage resolves a message index within a stream.
func (l *Log) EventIndexForMessage(id StreamID, mi MessageIndex) (EventIndex, error) {
	s, err := l.lookup(id)
	if err != nil {
		return 0, err
	}
	pos, ok := s.byMessage[mi]
	if !ok {
		return 0, ErrMessageNotFound
	}
	return s.events[pos].Index, nil
}

// Len returns the number of events in a stream.
func (l *Log) Len(id StreamID) int {
	s, err := l.lookup(id)
	if err != nil {
		return 0
	}
	return len(s.events)
}

// Export returns every event of every stream, ordered by EventIndex.
func (l *Log) Export() []Record {
	out := make([]Record, 0, int(l.nextEvent))
	for _, ev := range l.main.events {
		out = append(out, Record{Event: ev})
	}
	for root, s := range l.threads {
		r := root
		for _, ev := range s.events {
			out = append(out, Record{ThreadRoot: &r, Event: ev})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event.Index < out[j].Event.Index })
	return out
}

// Restore rebuilds a log from exported records. Records may arrive in
// any order; stream membership and indexes are taken as stored.
func Restore(records []Record) *Log {
	l := NewLog()
	sorted := append([]Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Event.Index < sorted[j].Event.Index })

	for _, r := range sorted {
		var s *stream
		if r.ThreadRoot == nil {
			s = l.main
		} else {
			s = l.threads[*r.ThreadRoot]
			if s == nil {
				s = newStream(Thread(*r.ThreadRoot))
				l.threads[*r.ThreadRoot] = s
			}
		}
		ev := r.Event
		s.append(ev)
		if ev.Index >= l.nextEvent {
			l.nextEvent = ev.Index + 1
		}
		if ev.MessageIndex != nil && *ev.MessageIndex >= l.nextMessage {
			l.nextMessage = *ev.MessageIndex + 1
		}
		if ev.Timestamp.After(l.lastUpdated) {
			l.lastUpdated = ev.Timestamp
		}
	}
	return l
}
