package events

import (
	"sort"
	"time"
)

// Direction selects how a read expands from its starting point.
type Direction int

const (
	// Centered grows outward from the mid point in both directions.
	Centered Direction = iota
	// Ascending reads from the start point towards newer events.
	Ascending
	// Descending reads from the start point towards older events.
	Descending
)

// WindowQuery describes a bounded read of one stream.
//
// The read stops as soon as either MaxEvents events or MaxMessages
// messages have been collected; a non-positive cap means "no cap".
// Events below MinVisible, expired events and overlays on expired
// messages are skipped and do not count toward either cap.
type WindowQuery struct {
	Stream      StreamID
	Start       EventIndex
	Direction   Direction
	MaxEvents   int
	MaxMessages int
	MinVisible  EventIndex
	Now         time.Time
}

type budget struct {
	maxEvents, maxMessages int
	events, messages       int
}

func (b *budget) full() bool {
	return (b.maxEvents > 0 && b.events >= b.maxEvents) ||
		(b.maxMessages > 0 && b.messages >= b.maxMessages)
}

func (b *budget) take(ev *Event) {
	b.events++
	if ev.MessageIndex != nil {
		b.messages++
	}
}

// visible reports whether ev can be returned to a reader whose cutoff is
// minVisible.
func (s *stream) visible(ev *Event, minVisible EventIndex, now time.Time) bool {
	if ev.Index < minVisible || ev.Expired(now) {
		return false
	}
	if ov, ok := ev.Payload.(overlay); ok {
		if pos, found := s.byMessage[ov.Target()]; found && s.events[pos].Expired(now) {
			return false
		}
	}
	return true
}

// Window returns a contiguous, ascending run of visible events around
// q.Start. It never returns an event below q.MinVisible, even when the
// start point itself lies below the cutoff.
func (l *Log) Window(q WindowQuery) ([]Event, error) {
	s, err := l.lookup(q.Stream)
	if err != nil {
		return nil, err
	}
	n := len(s.events)
	lo := s.search(q.MinVisible)
	if lo >= n {
		return []Event{}, nil
	}

	b := budget{maxEvents: q.MaxEvents, maxMessages: q.MaxMessages}
	ok := func(ev *Event) bool { return s.visible(ev, q.MinVisible, q.Now) }

	var left, right []Event
	// nextRight collects the next visible event at or after r.
	r := 0
	nextRight := func() bool {
		for r < n {
			ev := &s.events[r]
			r++
			if ok(ev) {
				right = append(right, *ev)
				b.take(ev)
				return true
			}
		}
		return false
	}
	l0 := 0
	nextLeft := func() bool {
		for l0 >= lo {
			ev := &s.events[l0]
			l0--
			if ok(ev) {
				left = append(left, *ev)
				b.take(ev)
				return true
			}
		}
		return false
	}

	switch q.Direction {
	case Ascending:
		r = max(s.search(q.Start), lo)
		for !b.full() && nextRight() {
		}
	case Descending:
		l0 = s.search(q.Start+1) - 1
		if q.Start == ^EventIndex(0) {
			l0 = n - 1
		}
		for !b.full() && nextLeft() {
		}
	default:
		p := min(max(s.search(q.Start), lo), n-1)
		r, l0 = p, p-1
		for !b.full() {
			progressed := nextRight()
			if !b.full() && nextLeft() {
				progressed = true
			}
			if !progressed {
				break
			}
		}
	}

	out := make([]Event, 0, len(left)+len(right))
	for i := len(left) - 1; i >= 0; i-- {
		out = append(out, left[i])
	}
	return append(out, right...), nil
}

// ByIndex returns the requested events that exist in the stream and are
// visible to the reader. Missing or forbidden indexes are omitted; the
// result is ascending and free of duplicates.
func (l *Log) ByIndex(id StreamID, indexes []EventIndex, minVisible EventIndex, now time.Time) ([]Event, error) {
	s, err := l.lookup(id)
	if err != nil {
		return nil, err
	}
	wanted := append([]EventIndex(nil), indexes...)
	sort.Slice(wanted, func(i, j int) bool { return wanted[i] < wanted[j] })

	out := make([]Event, 0, len(wanted))
	var last EventIndex
	for i, idx := range wanted {
		if i > 0 && idx == last {
			continue
		}
		last = idx
		pos := s.search(idx)
		if pos >= len(s.events) || s.events[pos].Index != idx {
			continue
		}
		ev := &s.events[pos]
		if s.visible(ev, minVisible, now) {
			out = append(out, *ev)
		}
	}
	return out, nil
}
