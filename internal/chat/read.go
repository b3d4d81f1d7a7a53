package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/deltasync"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/metrics"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/visibility"
)

// ReadArgs are common to every event read.
type ReadArgs struct {
	Call
	Thread      *events.MessageIndex
	MaxEvents   int
	MaxMessages int
	// LatestKnownUpdate is the newest chat timestamp the reader has seen.
	// A read served by an older state fails with
	// *ReplicaNotUpToDateError.
	LatestKnownUpdate *time.Time
}

type EventsResponse struct {
	Events           []events.Event    `json:"events"`
	LatestEventIndex events.EventIndex `json:"latest_event_index"`
	Timestamp        time.Time         `json:"timestamp"`
}

type MessagesResponse struct {
	Messages         []events.MessageView `json:"messages"`
	LatestEventIndex events.EventIndex    `json:"latest_event_index"`
	Timestamp        time.Time            `json:"timestamp"`
}

func capAt(requested, ceiling int) int {
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}

// prepareRead resolves the reader's window and stream.
func (s *state) prepareRead(args ReadArgs, now time.Time) (visibility.Window, events.StreamID, error) {
	if err := s.checkReplica(args.LatestKnownUpdate); err != nil {
		return visibility.Window{}, events.Main, err
	}
	w, err := s.readerWindow(args.Caller)
	if err != nil {
		return w, events.Main, err
	}
	if args.Thread != nil {
		if err := s.visibleRoot(*args.Thread, w, now); err != nil {
			return w, events.Main, err
		}
	}
	return w, events.ThreadFromPtr(args.Thread), nil
}

func (e *Entity) window(ctx context.Context, args ReadArgs, build func(s *state, stream events.StreamID) (events.WindowQuery, error)) (EventsResponse, error) {
	var out EventsResponse
	err := e.view(ctx, func(s *state, now time.Time) error {
		w, stream, err := s.prepareRead(args, now)
		if err != nil {
			return err
		}
		q, err := build(s, stream)
		if err != nil {
			return err
		}
		q.Stream = stream
		q.MaxEvents = capAt(args.MaxEvents, e.deps.Defaults.MaxEventsPerRead)
		q.MaxMessages = capAt(args.MaxMessages, e.deps.Defaults.MaxMessagesPerRead)
		q.MinVisible = w.MinEventIndex
		q.Now = now
		evs, err := s.log.Window(q)
		if err != nil {
			return err
		}
		out = EventsResponse{Events: evs, LatestEventIndex: s.latestEventIndex(), Timestamp: s.lastUpdated()}
		return nil
	})
	return out, err
}

// EventsWindow returns events centred on the message mid.
func (e *Entity) EventsWindow(ctx context.Context, args ReadArgs, mid events.MessageIndex) (EventsResponse, error) {
	return e.window(ctx, args, func(s *state, stream events.StreamID) (events.WindowQuery, error) {
		start, err := s.log.EventIndexForMessage(stream, mid)
		if err != nil {
			return events.WindowQuery{}, err
		}
		return events.WindowQuery{Start: start, Direction: events.Centered}, nil
	})
}

// Events returns events from start towards newer or older ones.
func (e *Entity) Events(ctx context.Context, args ReadArgs, start events.EventIndex, ascending bool) (EventsResponse, error) {
	return e.window(ctx, args, func(*state, events.StreamID) (events.WindowQuery, error) {
		dir := events.Descending
		if ascending {
			dir = events.Ascending
		}
		return events.WindowQuery{Start: start, Direction: dir}, nil
	})
}

// EventsByIndex returns the requested events the reader may see. Missing
// and hidden indexes are left out.
func (e *Entity) EventsByIndex(ctx context.Context, args ReadArgs, indexes []events.EventIndex) (EventsResponse, error) {
	var out EventsResponse
	err := e.view(ctx, func(s *state, now time.Time) error {
		w, stream, err := s.prepareRead(args, now)
		if err != nil {
			return err
		}
		evs, err := s.log.ByIndex(stream, indexes, w.MinEventIndex, now)
		if err != nil {
			return err
		}
		out = EventsResponse{Events: evs, LatestEventIndex: s.latestEventIndex(), Timestamp: s.lastUpdated()}
		return nil
	})
	return out, err
}

// Messages materializes messages by index with edits, deletions and
// reactions folded in. Deleted messages come back redacted.
func (e *Entity) Messages(ctx context.Context, args ReadArgs, indexes []events.MessageIndex) (MessagesResponse, error) {
	var out MessagesResponse
	err := e.view(ctx, func(s *state, now time.Time) error {
		w, stream, err := s.prepareRead(args, now)
		if err != nil {
			return err
		}
		views, err := s.log.Messages(stream, indexes, w.MinEventIndex, now)
		if err != nil {
			return err
		}
		for i := range views {
			views[i] = views[i].Redacted()
		}
		out = MessagesResponse{Messages: views, LatestEventIndex: s.latestEventIndex(), Timestamp: s.lastUpdated()}
		return nil
	})
	return out, err
}

// Summary is the full state of a chat as one reader sees it.
type Summary struct {
	ChatID             uuid.UUID             `json:"chat_id"`
	Kind               models.ChatKind       `json:"kind"`
	Name               string                `json:"name,omitempty"`
	Public             bool                  `json:"public"`
	HistoryVisible     bool                  `json:"history_visible_to_new_joiners"`
	CreatedAt          time.Time             `json:"created_at"`
	LastUpdated        time.Time             `json:"last_updated"`
	LatestEventIndex   events.EventIndex     `json:"latest_event_index"`
	LatestMessageIndex *events.MessageIndex  `json:"latest_message_index,omitempty"`
	MemberCount        int                   `json:"member_count"`
	MemberLimit        int                   `json:"member_limit"`
	Role               models.Role           `json:"role,omitempty"`
	Visibility         visibility.Window     `json:"visibility"`
	Gate               *gate.AccessGate      `json:"gate,omitempty"`
	Rules              models.Rules          `json:"rules"`
	Frozen             *Frozen               `json:"frozen,omitempty"`
	EventsTTL          *time.Duration        `json:"events_ttl,omitempty"`
	Pinned             []events.MessageIndex `json:"pinned"`
	HasInviteCode      bool                  `json:"has_invite_code"`
	Metrics            metrics.ChatMetrics   `json:"metrics"`
}

func (e *Entity) Summary(ctx context.Context, call Call) (Summary, error) {
	var out Summary
	err := e.view(ctx, func(s *state, _ time.Time) error {
		w, err := s.readerWindow(call.Caller)
		if err != nil {
			return err
		}
		out = Summary{
			ChatID:           s.id,
			Kind:             s.kind,
			Name:             s.name,
			Public:           s.public,
			HistoryVisible:   s.history.HistoryVisibleToNewJoiners,
			CreatedAt:        s.createdAt,
			LastUpdated:      s.lastUpdated(),
			LatestEventIndex: s.latestEventIndex(),
			MemberCount:      s.members.Count(),
			MemberLimit:      s.members.Limit(),
			Visibility:       w,
			Gate:             s.gate.Value,
			Rules:            s.rules.Value,
			Frozen:           s.frozen.Value,
			EventsTTL:        s.eventsTTL.Value,
			Pinned:           append([]events.MessageIndex{}, s.pinned.Value...),
			HasInviteCode:    len(s.inviteCode.Value) > 0,
			Metrics:          s.log.Metrics(),
		}
		if _, next := s.log.NextIndexes(); next > 0 {
			latest := next - 1
			out.LatestMessageIndex = &latest
		}
		if m, ok := s.members.Get(call.Caller); ok {
			out.Role = m.Role
		}
		return nil
	})
	return out, err
}

// SummaryUpdates lists what changed strictly after Since. Nil fields did
// not change.
type SummaryUpdates struct {
	Timestamp        time.Time         `json:"timestamp"`
	LatestEventIndex events.EventIndex `json:"latest_event_index"`

	Name           *string `json:"name,omitempty"`
	Public         *bool   `json:"public,omitempty"`
	HistoryVisible *bool   `json:"history_visible_to_new_joiners,omitempty"`
	MemberLimit    *int    `json:"member_limit,omitempty"`

	UpdatedMembers []members.Member `json:"updated_members"`
	RemovedMembers []uuid.UUID      `json:"removed_members"`
	Blocked        []uuid.UUID      `json:"blocked,omitempty"`
	Invited        []uuid.UUID      `json:"invited,omitempty"`

	Pinned    *deltasync.Timestamped[[]events.MessageIndex] `json:"pinned,omitempty"`
	Gate      *deltasync.Timestamped[*gate.AccessGate]      `json:"gate,omitempty"`
	Rules     *deltasync.Timestamped[models.Rules]          `json:"rules,omitempty"`
	Frozen    *deltasync.Timestamped[*Frozen]               `json:"frozen,omitempty"`
	EventsTTL *deltasync.Timestamped[*time.Duration]        `json:"events_ttl,omitempty"`

	Metrics        *metrics.ChatMetrics  `json:"metrics,omitempty"`
	ThreadsUpdated []events.MessageIndex `json:"threads_updated,omitempty"`

	// ResyncRequired is set when since predates the retained removal
	// history; the reader must fetch the full Summary instead.
	ResyncRequired bool `json:"resync_required,omitempty"`
}

func changed[T any](ts deltasync.Timestamped[T], since time.Time) *deltasync.Timestamped[T] {
	if !ts.Timestamp.After(since) {
		return nil
	}
	cp := ts
	return &cp
}

// SummaryUpdates returns what changed after since, or false when nothing
// did.
func (e *Entity) SummaryUpdates(ctx context.Context, call Call, since time.Time) (SummaryUpdates, bool, error) {
	var out SummaryUpdates
	var ok bool
	err := e.view(ctx, func(s *state, _ time.Time) error {
		if _, err := s.readerWindow(call.Caller); err != nil {
			return err
		}
		last := s.lastUpdated()
		if !last.After(since) {
			return nil
		}
		ok = true
		removed, complete := s.members.RemovedSince(since)
		out = SummaryUpdates{
			Timestamp:        last,
			LatestEventIndex: s.latestEventIndex(),
			UpdatedMembers:   s.members.UpdatedSince(since),
			RemovedMembers:   removed,
			ResyncRequired:   !complete,
			Pinned:           changed(s.pinned, since),
			Gate:             changed(s.gate, since),
			Rules:            changed(s.rules, since),
			Frozen:           changed(s.frozen, since),
			EventsTTL:        changed(s.eventsTTL, since),
			ThreadsUpdated:   s.log.ThreadsUpdatedSince(since),
		}
		if s.settingsUpdated.After(since) {
			name, public, history, limit := s.name, s.public, s.history.HistoryVisibleToNewJoiners, s.members.Limit()
			out.Name, out.Public, out.HistoryVisible, out.MemberLimit = &name, &public, &history, &limit
		}
		if blocked, updated := s.members.BlockedIfUpdated(since); updated {
			out.Blocked = blocked
		}
		if invited, updated := s.members.InvitedIfUpdated(since); updated {
			out.Invited = invited
		}
		if s.log.LastUpdated().After(since) {
			m := s.log.Metrics()
			out.Metrics = &m
		}
		return nil
	})
	return out, ok, err
}

// Members lists the current roster.
func (e *Entity) Members(ctx context.Context, call Call) ([]members.Member, error) {
	var out []members.Member
	err := e.view(ctx, func(s *state, _ time.Time) error {
		if _, err := s.readerWindow(call.Caller); err != nil {
			return err
		}
		out = s.members.Members()
		return nil
	})
	return out, err
}

// IsMember reports whether userID belongs to the chat.
func (e *Entity) IsMember(ctx context.Context, userID uuid.UUID) (bool, error) {
	var out bool
	err := e.view(ctx, func(s *state, _ time.Time) error {
		out = s.members.IsMember(userID)
		return nil
	})
	return out, err
}

// Metrics folds the metrics of every stream of the chat.
func (e *Entity) Metrics(ctx context.Context) (metrics.ChatMetrics, error) {
	var out metrics.ChatMetrics
	err := e.view(ctx, func(s *state, _ time.Time) error {
		out = s.log.Metrics()
		return nil
	})
	return out, err
}

func (e *Entity) LastUpdated(ctx context.Context) (time.Time, error) {
	var out time.Time
	err := e.view(ctx, func(s *state, _ time.Time) error {
		out = s.lastUpdated()
		return nil
	})
	return out, err
}

// PruneTombstones drops member removal tombstones at or before cutoff.
func (e *Entity) PruneTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := e.do(ctx, func() {
		n = e.st.members.PruneRemoved(cutoff)
	})
	if err != nil || n == 0 {
		return n, err
	}
	return n, e.save(ctx)
}
