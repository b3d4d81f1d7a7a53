package chat

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/codec"
	"github.com/lalith-99/echocore/internal/deltasync"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/visibility"
	"golang.org/x/crypto/blake2b"
)

// MaxPinned caps the pinned message list of one chat.
const MaxPinned = 50

// Frozen marks a chat suspended by a platform moderator.
type Frozen struct {
	By     uuid.UUID `json:"by"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// state is everything one chat owns. It is only touched by the entity's
// actor goroutine.
type state struct {
	id           uuid.UUID
	kind         models.ChatKind
	createdAt    time.Time
	participants []uuid.UUID

	name            string
	public          bool
	history         visibility.Policy
	settingsUpdated time.Time

	rules      deltasync.Timestamped[models.Rules]
	gate       deltasync.Timestamped[*gate.AccessGate]
	frozen     deltasync.Timestamped[*Frozen]
	eventsTTL  deltasync.Timestamped[*time.Duration]
	pinned     deltasync.Timestamped[[]events.MessageIndex]
	inviteCode deltasync.Timestamped[[]byte]

	members *members.Table
	log     *events.Log
}

func (s *state) isDirect() bool {
	return s.kind == models.ChatKindDirect
}

// lastUpdated is the newest change to anything the chat owns.
func (s *state) lastUpdated() time.Time {
	latest := s.createdAt
	for _, ts := range []time.Time{
		s.settingsUpdated,
		s.log.LastUpdated(),
		s.members.LastUpdated(),
		s.rules.Timestamp,
		s.gate.Timestamp,
		s.frozen.Timestamp,
		s.eventsTTL.Timestamp,
		s.pinned.Timestamp,
		s.inviteCode.Timestamp,
	} {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

func (s *state) latestEventIndex() events.EventIndex {
	idx, _ := s.log.LatestEventIndex()
	return idx
}

func (s *state) checkNotFrozen() error {
	if s.frozen.Value != nil {
		return ErrChatFrozen
	}
	return nil
}

func (s *state) isPinned(mi events.MessageIndex) bool {
	return slices.Contains(s.pinned.Value, mi)
}

// snapshot is the persisted form of state minus the event log. Events
// are stored separately, one row per event.
type snapshot struct {
	ID                uuid.UUID          `json:"id"`
	Kind              models.ChatKind    `json:"kind"`
	CreatedAt         time.Time          `json:"created_at"`
	Participants      []uuid.UUID        `json:"participants,omitempty"`
	Name              string             `json:"name"`
	Public            bool               `json:"public"`
	HistoryVisible    bool               `json:"history_visible"`
	NewMemberDefaults *visibility.Window `json:"new_member_defaults,omitempty"`
	SettingsUpdated   time.Time          `json:"settings_updated"`

	Rules      deltasync.Timestamped[models.Rules]          `json:"rules"`
	Gate       deltasync.Timestamped[*gate.AccessGate]      `json:"gate"`
	Frozen     deltasync.Timestamped[*Frozen]               `json:"frozen"`
	EventsTTL  deltasync.Timestamped[*time.Duration]        `json:"events_ttl"`
	Pinned     deltasync.Timestamped[[]events.MessageIndex] `json:"pinned"`
	InviteCode deltasync.Timestamped[[]byte]                `json:"invite_code"`

	Members members.Snapshot `json:"members"`
}

func (s *state) encode() ([]byte, error) {
	return codec.Marshal(snapshot{
		ID:                s.id,
		Kind:              s.kind,
		CreatedAt:         s.createdAt,
		Participants:      s.participants,
		Name:              s.name,
		Public:            s.public,
		HistoryVisible:    s.history.HistoryVisibleToNewJoiners,
		NewMemberDefaults: s.history.DefaultsForNewMembers,
		SettingsUpdated:   s.settingsUpdated,
		Rules:             s.rules,
		Gate:              s.gate,
		Frozen:            s.frozen,
		EventsTTL:         s.eventsTTL,
		Pinned:            s.pinned,
		InviteCode:        s.inviteCode,
		Members:           s.members.Snapshot(),
	})
}

func decodeState(data []byte, records []events.Record) (*state, error) {
	var snap snapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode chat snapshot: %w", err)
	}
	log := events.Restore(records)
	log.SetTTL(snap.EventsTTL.Value)
	return &state{
		id:           snap.ID,
		kind:         snap.Kind,
		createdAt:    snap.CreatedAt,
		participants: snap.Participants,
		name:         snap.Name,
		public:       snap.Public,
		history: visibility.Policy{
			HistoryVisibleToNewJoiners: snap.HistoryVisible,
			DefaultsForNewMembers:      snap.NewMemberDefaults,
		},
		settingsUpdated: snap.SettingsUpdated,
		rules:           snap.Rules,
		gate:            snap.Gate,
		frozen:          snap.Frozen,
		eventsTTL:       snap.EventsTTL,
		pinned:          snap.Pinned,
		inviteCode:      snap.InviteCode,
		members:         members.Restore(snap.Members),
		log:             log,
	}, nil
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newInviteCode returns a fresh code and the digest the chat keeps.
func newInviteCode() (string, []byte, error) {
	raw := make([]byte, 10)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate invite code: %w", err)
	}
	code := codeEncoding.EncodeToString(raw)
	return code, digestCode(code), nil
}

func digestCode(code string) []byte {
	sum := blake2b.Sum256([]byte(code))
	return sum[:]
}

func matchCode(digest []byte, code string) bool {
	if len(digest) == 0 || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare(digest, digestCode(code)) == 1
}
