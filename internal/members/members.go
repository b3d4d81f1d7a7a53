// Package members is the roster of one chat: members with their roles
// and visibility cutoffs, the block list and pending invitations.
//
// The table trusts its input. Whether the actor may perform a mutation is
// decided by the chat entity before calling in.
package members

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/deltasync"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/visibility"
)

var (
	ErrNotMember     = errors.New("user is not a member")
	ErrAlreadyMember = errors.New("user is already a member")
	ErrBlocked       = errors.New("user is blocked")
)

// LimitError is returned when the member limit has been reached.
type LimitError struct {
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("member limit reached (%d)", e.Limit)
}

type Member struct {
	UserID     uuid.UUID         `json:"user_id"`
	Role       models.Role       `json:"role"`
	Muted      bool              `json:"muted"`
	JoinedAt   time.Time         `json:"joined_at"`
	InvitedBy  *uuid.UUID        `json:"invited_by,omitempty"`
	Visibility visibility.Window `json:"visibility"`
	// RulesAccepted is the latest rules version the member accepted.
	RulesAccepted *uint32   `json:"rules_accepted,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (m Member) LastUpdated() time.Time {
	return m.UpdatedAt
}

// HasAccepted reports whether the member accepted rules at version or later.
func (m Member) HasAccepted(version uint32) bool {
	return m.RulesAccepted != nil && *m.RulesAccepted >= version
}

// Invitation lets a user join a private chat with a preset cutoff.
type Invitation struct {
	UserID     uuid.UUID         `json:"user_id"`
	InvitedBy  uuid.UUID         `json:"invited_by"`
	Visibility visibility.Window `json:"visibility"`
	CreatedAt  time.Time         `json:"created_at"`
}

type AddOutcome int

const (
	Added AddOutcome = iota
	AlreadyInGroup
	Blocked
	LimitReached
)

func (o AddOutcome) String() string {
	switch o {
	case Added:
		return "added"
	case AlreadyInGroup:
		return "already_in_group"
	case Blocked:
		return "blocked"
	case LimitReached:
		return "member_limit_reached"
	}
	return "unknown"
}

// AddResult is the outcome of Add. Member is set for Added and
// AlreadyInGroup; Limit for LimitReached.
type AddResult struct {
	Outcome AddOutcome
	Member  Member
	Limit   int
}

// Err maps rejections to errors. Added and AlreadyInGroup are not errors.
func (r AddResult) Err() error {
	switch r.Outcome {
	case Blocked:
		return ErrBlocked
	case LimitReached:
		return &LimitError{Limit: r.Limit}
	}
	return nil
}

type AddArgs struct {
	UserID uuid.UUID
	Role   models.Role
	Now    time.Time
	// Policy and Next feed the visibility cutoff when the user holds no
	// invitation. Next is the entity's allocator position.
	Policy visibility.Policy
	Next   visibility.Window
}

// Table is not safe for concurrent use.
type Table struct {
	members     map[uuid.UUID]*Member
	blocked     map[uuid.UUID]time.Time
	invitations map[uuid.UUID]Invitation
	removed     *deltasync.Tombstones[uuid.UUID]
	limit       int

	blockedUpdated time.Time
	invitedUpdated time.Time
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// NewTable returns an empty roster. A limit of zero or less means no limit.
func NewTable(limit int) *Table {
	return &Table{
		members:     make(map[uuid.UUID]*Member),
		blocked:     make(map[uuid.UUID]time.Time),
		invitations: make(map[uuid.UUID]Invitation),
		removed:     deltasync.NewTombstones(lessID),
		limit:       limit,
	}
}

func (t *Table) Limit() int {
	return t.limit
}

func (t *Table) SetLimit(limit int) {
	t.limit = limit
}

func (t *Table) Count() int {
	return len(t.members)
}

func (t *Table) LimitReached() bool {
	return t.limit > 0 && len(t.members) >= t.limit
}

func (t *Table) Get(userID uuid.UUID) (Member, bool) {
	m, ok := t.members[userID]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

func (t *Table) IsMember(userID uuid.UUID) bool {
	_, ok := t.members[userID]
	return ok
}

func (t *Table) IsBlocked(userID uuid.UUID) bool {
	_, ok := t.blocked[userID]
	return ok
}

// Check runs the admission checks of Add without mutating anything.
func (t *Table) Check(userID uuid.UUID) AddResult {
	if m, ok := t.members[userID]; ok {
		return AddResult{Outcome: AlreadyInGroup, Member: *m}
	}
	if t.IsBlocked(userID) {
		return AddResult{Outcome: Blocked}
	}
	if t.LimitReached() {
		return AddResult{Outcome: LimitReached, Limit: t.limit}
	}
	return AddResult{Outcome: Added}
}

// Add admits a user. A pending invitation is consumed in the same step and
// supplies the visibility cutoff and inviter.
func (t *Table) Add(args AddArgs) AddResult {
	if res := t.Check(args.UserID); res.Outcome != Added {
		return res
	}

	var invitedBy *uuid.UUID
	var invited *visibility.Window
	if inv, ok := t.invitations[args.UserID]; ok {
		by := inv.InvitedBy
		invitedBy = &by
		w := inv.Visibility
		invited = &w
		delete(t.invitations, args.UserID)
		t.invitedUpdated = args.Now
	}

	role := args.Role
	if role == "" {
		role = models.RoleMember
	}
	m := &Member{
		UserID:     args.UserID,
		Role:       role,
		JoinedAt:   args.Now,
		InvitedBy:  invitedBy,
		Visibility: visibility.ForNewMember(invited, args.Policy, args.Next),
		UpdatedAt:  args.Now,
	}
	t.members[args.UserID] = m
	return AddResult{Outcome: Added, Member: *m}
}

// Remove archives a member with a tombstone and drops any invitation
// held by the user.
func (t *Table) Remove(userID uuid.UUID, now time.Time) (Member, bool) {
	m, ok := t.members[userID]
	if !ok {
		return Member{}, false
	}
	delete(t.members, userID)
	t.removed.Add(now, userID)
	if _, invited := t.invitations[userID]; invited {
		delete(t.invitations, userID)
		t.invitedUpdated = now
	}
	return *m, true
}

// Block removes the user if they are a member and adds them to the block
// list. It reports whether a member was removed.
func (t *Table) Block(userID uuid.UUID, now time.Time) bool {
	_, wasMember := t.Remove(userID, now)
	if _, invited := t.invitations[userID]; invited {
		delete(t.invitations, userID)
		t.invitedUpdated = now
	}
	t.blocked[userID] = now
	t.blockedUpdated = now
	return wasMember
}

// Unblock lifts a block. It reports whether the user was blocked.
func (t *Table) Unblock(userID uuid.UUID, now time.Time) bool {
	if !t.IsBlocked(userID) {
		return false
	}
	delete(t.blocked, userID)
	t.blockedUpdated = now
	return true
}

// Invite records or replaces an invitation.
func (t *Table) Invite(inv Invitation) error {
	if t.IsMember(inv.UserID) {
		return ErrAlreadyMember
	}
	if t.IsBlocked(inv.UserID) {
		return ErrBlocked
	}
	t.invitations[inv.UserID] = inv
	t.invitedUpdated = inv.CreatedAt
	return nil
}

func (t *Table) RevokeInvitation(userID uuid.UUID, now time.Time) bool {
	if _, ok := t.invitations[userID]; !ok {
		return false
	}
	delete(t.invitations, userID)
	t.invitedUpdated = now
	return true
}

func (t *Table) Invitation(userID uuid.UUID) (Invitation, bool) {
	inv, ok := t.invitations[userID]
	return inv, ok
}

func (t *Table) mutate(userID uuid.UUID, now time.Time, fn func(*Member)) error {
	m, ok := t.members[userID]
	if !ok {
		return ErrNotMember
	}
	fn(m)
	m.UpdatedAt = now
	return nil
}

// SetRole overrides a member's role and returns the previous one.
func (t *Table) SetRole(userID uuid.UUID, role models.Role, now time.Time) (models.Role, error) {
	var old models.Role
	err := t.mutate(userID, now, func(m *Member) {
		old = m.Role
		m.Role = role
	})
	return old, err
}

func (t *Table) SetMuted(userID uuid.UUID, muted bool, now time.Time) error {
	return t.mutate(userID, now, func(m *Member) { m.Muted = muted })
}

func (t *Table) AcceptRules(userID uuid.UUID, version uint32, now time.Time) error {
	return t.mutate(userID, now, func(m *Member) {
		v := version
		m.RulesAccepted = &v
	})
}

// CountRole returns how many members hold role.
func (t *Table) CountRole(role models.Role) int {
	n := 0
	for _, m := range t.members {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Members lists current members ordered by user id.
func (t *Table) Members() []Member {
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Member) int { return bytes.Compare(a.UserID[:], b.UserID[:]) })
	return out
}

func sortedIDs[V any](set map[uuid.UUID]V) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}

func (t *Table) Blocked() []uuid.UUID {
	return sortedIDs(t.blocked)
}

func (t *Table) Invited() []uuid.UUID {
	return sortedIDs(t.invitations)
}

// UpdatedSince returns members created or changed strictly after since.
func (t *Table) UpdatedSince(since time.Time) []Member {
	return deltasync.UpdatedSince(t.Members(), since)
}

// RemovedSince returns members removed strictly after since, newest first.
// complete is false when since predates the pruned tombstone horizon.
func (t *Table) RemovedSince(since time.Time) ([]uuid.UUID, bool) {
	return t.removed.Since(since)
}

// BlockedIfUpdated returns the block list if it changed after since.
func (t *Table) BlockedIfUpdated(since time.Time) ([]uuid.UUID, bool) {
	if !t.blockedUpdated.After(since) {
		return nil, false
	}
	return t.Blocked(), true
}

// InvitedIfUpdated returns the invited users if the set changed after since.
func (t *Table) InvitedIfUpdated(since time.Time) ([]uuid.UUID, bool) {
	if !t.invitedUpdated.After(since) {
		return nil, false
	}
	return t.Invited(), true
}

// LastUpdated is the newest change anywhere in the roster.
func (t *Table) LastUpdated() time.Time {
	latest := t.blockedUpdated
	if t.invitedUpdated.After(latest) {
		latest = t.invitedUpdated
	}
	if ts, ok := t.removed.Latest(); ok && ts.After(latest) {
		latest = ts
	}
	for _, m := range t.members {
		if m.UpdatedAt.After(latest) {
			latest = m.UpdatedAt
		}
	}
	return latest
}

// PruneRemoved drops removal tombstones at or before cutoff.
func (t *Table) PruneRemoved(cutoff time.Time) int {
	return t.removed.Prune(cutoff)
}

// Snapshot is the persisted form of a Table. Maps are flattened to sorted
// slices so that encoding is deterministic.
type Snapshot struct {
	Limit          int                              `json:"limit"`
	Members        []Member                         `json:"members"`
	Blocked        []deltasync.Tombstone[uuid.UUID] `json:"blocked"`
	Invitations    []Invitation                     `json:"invitations"`
	Removed        []deltasync.Tombstone[uuid.UUID] `json:"removed"`
	RemovedHorizon time.Time                        `json:"removed_horizon"`
	BlockedUpdated time.Time                        `json:"blocked_updated"`
	InvitedUpdated time.Time                        `json:"invited_updated"`
}

func (t *Table) Snapshot() Snapshot {
	s := Snapshot{
		Limit:          t.limit,
		Members:        t.Members(),
		Blocked:        make([]deltasync.Tombstone[uuid.UUID], 0, len(t.blocked)),
		Invitations:    make([]Invitation, 0, len(t.invitations)),
		Removed:        t.removed.Entries(),
		RemovedHorizon: t.removed.Horizon(),
		BlockedUpdated: t.blockedUpdated,
		InvitedUpdated: t.invitedUpdated,
	}
	for _, id := range t.Blocked() {
		s.Blocked = append(s.Blocked, deltasync.Tombstone[uuid.UUID]{Timestamp: t.blocked[id], ID: id})
	}
	for _, id := range t.Invited() {
		s.Invitations = append(s.Invitations, t.invitations[id])
	}
	return s
}

// Restore rebuilds a Table from a snapshot.
func Restore(s Snapshot) *Table {
	t := NewTable(s.Limit)
	for i := range s.Members {
		m := s.Members[i]
		t.members[m.UserID] = &m
	}
	for _, b := range s.Blocked {
		t.blocked[b.ID] = b.Timestamp
	}
	for _, inv := range s.Invitations {
		t.invitations[inv.UserID] = inv
	}
	t.removed.Restore(s.Removed, s.RemovedHorizon)
	t.blockedUpdated = s.BlockedUpdated
	t.invitedUpdated = s.InvitedUpdated
	return t
}
