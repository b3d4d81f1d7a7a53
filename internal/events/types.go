package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EventIndex identifies an event within one chat. Never reused.
type EventIndex uint32

// MessageIndex identifies a message-producing event within one chat.
// It advances only for MessageSent payloads.
type MessageIndex uint32

var (
	ErrThreadNotFound  = errors.New("thread not found")
	ErrMessageNotFound = errors.New("message not found")
)

// StreamID selects the main stream or the thread rooted at a main-stream
// message.
type StreamID struct {
	thread bool
	root   MessageIndex
}

// Main is the entity's main stream.
var Main = StreamID{}

// Thread returns the stream of replies to the main-stream message root.
func Thread(root MessageIndex) StreamID {
	return StreamID{thread: true, root: root}
}

// ThreadFromPtr maps an optional thread root to a StreamID.
func ThreadFromPtr(root *MessageIndex) StreamID {
	if root == nil {
		return Main
	}
	return Thread(*root)
}

// Root returns the thread root, or false for the main stream.
func (s StreamID) Root() (MessageIndex, bool) {
	return s.root, s.thread
}

// RootPtr is the inverse of ThreadFromPtr.
func (s StreamID) RootPtr() *MessageIndex {
	if !s.thread {
		return nil
	}
	root := s.root
	return &root
}

func (s StreamID) String() string {
	if !s.thread {
		return "main"
	}
	return "thread:" + strconv.FormatUint(uint64(s.root), 10)
}

// Event is one immutable entry of a stream.
type Event struct {
	Index         EventIndex
	Timestamp     time.Time
	CorrelationID uint64
	ExpiresAt     *time.Time
	// MessageIndex is set only for message-producing events.
	MessageIndex *MessageIndex
	Payload      Payload
}

// Kind is shorthand for e.Payload.Kind().
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Expired reports whether the event's time-to-live has elapsed at now.
func (e Event) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

type eventJSON struct {
	Index         EventIndex      `json:"index"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID uint64          `json:"correlation_id"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	MessageIndex  *MessageIndex   `json:"message_index,omitempty"`
	Kind          Kind            `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %d has no payload", e.Index)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Payload.Kind(), err)
	}
	return json.Marshal(eventJSON{
		Index:         e.Index,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		ExpiresAt:     e.ExpiresAt,
		MessageIndex:  e.MessageIndex,
		Kind:          e.Payload.Kind(),
		Payload:       payload,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := decodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		Index:         raw.Index,
		Timestamp:     raw.Timestamp,
		CorrelationID: raw.CorrelationID,
		ExpiresAt:     raw.ExpiresAt,
		MessageIndex:  raw.MessageIndex,
		Payload:       payload,
	}
	return nil
}

// Record is an event tagged with the stream it belongs to, the unit of
// persistence.
type Record struct {
	ThreadRoot *MessageIndex `json:"thread_root,omitempty"`
	Event      Event         `json:"event"`
}

func (r Record) Stream() StreamID {
	return ThreadFromPtr(r.ThreadRoot)
}
