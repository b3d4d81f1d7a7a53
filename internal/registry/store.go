package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/codec"
	"github.com/lalith-99/echocore/internal/notify"
	"go.uber.org/zap"
)

// User is everything the registry keeps for one user.
type User struct {
	Direct *DirectChats
	Groups *Groups
}

func NewUser() *User {
	return &User{Direct: NewDirectChats(), Groups: NewGroups()}
}

// Updates is the registry sync payload.
type Updates struct {
	Timestamp     time.Time    `json:"timestamp"`
	DirectChats   []DirectChat `json:"direct_chats"`
	RemovedDirect []uuid.UUID  `json:"removed_direct_chats"`
	// PinnedDirect is nil when the pinned list did not change.
	PinnedDirect  []uuid.UUID `json:"pinned_direct_chats,omitempty"`
	Groups        []Group     `json:"groups"`
	RemovedGroups []uuid.UUID `json:"removed_groups"`
	// ResyncRequired is set when since predates the tombstone horizon and
	// removals may be missing. The client must fetch the full state.
	ResyncRequired bool `json:"resync_required"`
}

// LastUpdated is the newest change anywhere in the user's registry.
func (u *User) LastUpdated() time.Time {
	latest := u.Direct.LastUpdated()
	if g := u.Groups.LastUpdated(); g.After(latest) {
		latest = g
	}
	return latest
}

// Updates returns what changed after since. ok is false when nothing
// changed, which clients treat as "no updates" and skip merging.
func (u *User) Updates(since time.Time) (updates Updates, ok bool) {
	latest := u.LastUpdated()
	if !latest.After(since) {
		return Updates{}, false
	}

	removedDirect, directComplete := u.Direct.RemovedSince(since)
	removedGroups, groupsComplete := u.Groups.RemovedSince(since)
	updates = Updates{
		Timestamp:      latest,
		DirectChats:    u.Direct.UpdatedSince(since),
		RemovedDirect:  removedDirect,
		Groups:         u.Groups.UpdatedSince(since),
		RemovedGroups:  removedGroups,
		ResyncRequired: !directComplete || !groupsComplete,
	}
	if pinned, changed := u.Direct.PinnedIfUpdated(since); changed {
		updates.PinnedDirect = pinned
	}
	return updates, true
}

type userSnapshot struct {
	Direct directSnapshot `json:"direct"`
	Groups groupsSnapshot `json:"groups"`
}

func (u *User) encode() ([]byte, error) {
	return codec.Marshal(userSnapshot{Direct: u.Direct.snapshot(), Groups: u.Groups.snapshot()})
}

func decodeUser(data []byte) (*User, error) {
	var s userSnapshot
	if err := codec.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &User{Direct: restoreDirect(s.Direct), Groups: restoreGroups(s.Groups)}, nil
}

// Repository persists encoded registries. Load returns nil, nil when the
// user has none yet.
type Repository interface {
	LoadRegistry(ctx context.Context, userID uuid.UUID) ([]byte, error)
	SaveRegistry(ctx context.Context, userID uuid.UUID, data []byte) error
}

// Store serves per-user registries, loading them lazily and writing them
// back after every mutation.
type Store struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*User
	repo   Repository
	logger *zap.Logger
}

func NewStore(repo Repository, logger *zap.Logger) *Store {
	return &Store{
		users:  make(map[uuid.UUID]*User),
		repo:   repo,
		logger: logger.Named("registry"),
	}
}

func (s *Store) load(ctx context.Context, userID uuid.UUID) (*User, error) {
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	u := NewUser()
	if s.repo != nil {
		data, err := s.repo.LoadRegistry(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
		if data != nil {
			if u, err = decodeUser(data); err != nil {
				return nil, fmt.Errorf("decode registry: %w", err)
			}
		}
	}
	s.users[userID] = u
	return u, nil
}

func (s *Store) save(ctx context.Context, userID uuid.UUID, u *User) error {
	if s.repo == nil {
		return nil
	}
	data, err := u.encode()
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := s.repo.SaveRegistry(ctx, userID, data); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// View runs fn against the user's registry without persisting.
func (s *Store) View(ctx context.Context, userID uuid.UUID, fn func(*User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	return fn(u)
}

// Update runs fn and persists the registry when fn succeeds.
func (s *Store) Update(ctx context.Context, userID uuid.UUID, fn func(*User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if err := fn(u); err != nil {
		return err
	}
	return s.save(ctx, userID, u)
}

// Handle applies a notification to every recipient's registry. It is
// safe to apply the same notification twice.
func (s *Store) Handle(ctx context.Context, n notify.Notification) error {
	for _, userID := range n.Recipients {
		err := s.Update(ctx, userID, func(u *User) error {
			switch n.Kind {
			case notify.KindMemberJoined, notify.KindMemberLeft:
				u.Groups.Apply(n)
			case notify.KindDirectMessage:
				if n.MessageIndex == nil {
					return nil
				}
				them := n.UserID
				if userID == n.UserID {
					them = otherRecipient(n.Recipients, userID)
				}
				u.Direct.PushMessage(PushArgs{
					ChatID:       n.ChatID,
					Them:         them,
					EventIndex:   n.LatestEventIndex,
					MessageIndex: *n.MessageIndex,
					Mine:         userID == n.UserID,
					ContentType:  n.ContentType,
					IsReply:      n.IsReply,
					Now:          n.At,
				})
			}
			return nil
		})
		if err != nil {
			s.logger.Error("failed to apply notification",
				zap.String("kind", string(n.Kind)),
				zap.Stringer("chat_id", n.ChatID),
				zap.Stringer("user_id", userID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func otherRecipient(recipients []uuid.UUID, self uuid.UUID) uuid.UUID {
	for _, r := range recipients {
		if r != self {
			return r
		}
	}
	return self
}

// Prune drops tombstones at or before cutoff from every loaded registry
// and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for userID, u := range s.users {
		n := u.Direct.Prune(cutoff) + u.Groups.Prune(cutoff)
		if n == 0 {
			continue
		}
		total += n
		if err := s.save(ctx, userID, u); err != nil {
			return total, err
		}
	}
	return total, nil
}
