// Package metrics holds the rollup counters derived from chat event logs.
//
// ChatMetrics values are partial sums. Merge is associative and
// commutative, so a global rollup can be rebuilt from per-stream or
// per-chat partials in any order.
package metrics

import (
	"maps"
	"time"
)

type ChatMetrics struct {
	// Messages counts sent messages keyed by content type.
	Messages        map[string]uint64 `json:"messages,omitempty"`
	Replies         uint64            `json:"replies"`
	ThreadMessages  uint64            `json:"thread_messages"`
	Edits           uint64            `json:"edits"`
	DeletedMessages uint64            `json:"deleted_messages"`
	Undeletes       uint64            `json:"undeletes"`
	Reactions       uint64            `json:"reactions"`
	ReactionRemoves uint64            `json:"reaction_removes"`
	LastActive      time.Time         `json:"last_active"`
}

// TotalMessages sums message counts over every content type.
func (m ChatMetrics) TotalMessages() uint64 {
	var total uint64
	for _, n := range m.Messages {
		total += n
	}
	return total
}

// Merge returns the sum of m and other. Neither input is modified.
func (m ChatMetrics) Merge(other ChatMetrics) ChatMetrics {
	out := ChatMetrics{
		Replies:         m.Replies + other.Replies,
		ThreadMessages:  m.ThreadMessages + other.ThreadMessages,
		Edits:           m.Edits + other.Edits,
		DeletedMessages: m.DeletedMessages + other.DeletedMessages,
		Undeletes:       m.Undeletes + other.Undeletes,
		Reactions:       m.Reactions + other.Reactions,
		ReactionRemoves: m.ReactionRemoves + other.ReactionRemoves,
		LastActive:      m.LastActive,
	}
	if other.LastActive.After(out.LastActive) {
		out.LastActive = other.LastActive
	}
	if len(m.Messages) > 0 || len(other.Messages) > 0 {
		out.Messages = make(map[string]uint64, len(m.Messages)+len(other.Messages))
		maps.Copy(out.Messages, m.Messages)
		for k, n := range other.Messages {
			out.Messages[k] += n
		}
	}
	return out
}

// Clone returns a deep copy.
func (m ChatMetrics) Clone() ChatMetrics {
	out := m
	out.Messages = maps.Clone(m.Messages)
	return out
}

func (m *ChatMetrics) touch(now time.Time) {
	if now.After(m.LastActive) {
		m.LastActive = now
	}
}

// RecordMessage counts one sent message.
func (m *ChatMetrics) RecordMessage(contentType string, isReply, inThread bool, now time.Time) {
	if contentType == "" {
		contentType = "unknown"
	}
	if m.Messages == nil {
		m.Messages = make(map[string]uint64)
	}
	m.Messages[contentType]++
	if isReply {
		m.Replies++
	}
	if inThread {
		m.ThreadMessages++
	}
	m.touch(now)
}

func (m *ChatMetrics) RecordEdit(now time.Time) {
	m.Edits++
	m.touch(now)
}

func (m *ChatMetrics) RecordDelete(now time.Time) {
	m.DeletedMessages++
	m.touch(now)
}

func (m *ChatMetrics) RecordUndelete(now time.Time) {
	m.Undeletes++
	m.touch(now)
}

func (m *ChatMetrics) RecordReaction(added bool, now time.Time) {
	if added {
		m.Reactions++
	} else {
		m.ReactionRemoves++
	}
	m.touch(now)
}

// Source is anything that can report its own partial metrics.
type Source interface {
	ChatMetrics() ChatMetrics
}

// Aggregate folds every source into one rollup.
func Aggregate[S Source](sources ...S) ChatMetrics {
	var total ChatMetrics
	for _, s := range sources {
		total = total.Merge(s.ChatMetrics())
	}
	return total
}
