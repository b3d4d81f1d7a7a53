package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/deltasync"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/members"
	"github.com/lalith-99/echocore/internal/metrics"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/lalith-99/echocore/internal/visibility"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// directNamespace derives direct chat ids from their participants.
var directNamespace = uuid.MustParse("6f2d3c0e-8d4b-4a53-9a7e-2b1f0c9d7e41")

// DirectChatID is the id of the direct chat between a and b, the same
// whichever of them asks.
func DirectChatID(a, b uuid.UUID) uuid.UUID {
	lo, hi := a, b
	if bytes.Compare(lo[:], hi[:]) > 0 {
		lo, hi = hi, lo
	}
	return uuid.NewSHA1(directNamespace, append(lo[:], hi[:]...))
}

// Manager owns the chat entities of this process. Entities are loaded
// from the repository on first use and stay resident until Close.
// Repository reads and writes happen outside mu; concurrent loads of one
// chat share a single read.
type Manager struct {
	mu       sync.Mutex
	entities map[uuid.UUID]*Entity
	loads    singleflight.Group
	deps     *Deps
	logger   *zap.Logger
}

func NewManager(deps Deps) *Manager {
	deps.fill()
	m := &Manager{
		entities: make(map[uuid.UUID]*Entity),
		deps:     &deps,
		logger:   deps.Logger.Named("chats"),
	}
	deps.Metrics.WatchChats(m.Loaded, m.rollup)
	return m
}

type CreateArgs struct {
	Creator       uuid.UUID
	CorrelationID uint64
	Kind          models.ChatKind
	Name          string
	Public        bool
	// Unset fields fall back to the manager's Defaults.
	HistoryVisibleToNewJoiners *bool
	MemberLimit                *int
	EventsTTL                  *time.Duration
	Rules                      *models.Rules
	Gate                       *gate.AccessGate
}

func (a CreateArgs) validate() error {
	if a.Kind != models.ChatKindGroup && a.Kind != models.ChatKindChannel {
		return fmt.Errorf("%w: %q", ErrUnsupportedChatKind, a.Kind)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if a.Creator == uuid.Nil {
		return fmt.Errorf("%w: creator is required", ErrInvalidRequest)
	}
	if a.MemberLimit != nil && *a.MemberLimit < 0 {
		return fmt.Errorf("%w: member limit must not be negative", ErrInvalidRequest)
	}
	if a.EventsTTL != nil && *a.EventsTTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidRequest)
	}
	if a.Gate != nil {
		return a.Gate.Validate()
	}
	return nil
}

func (m *Manager) newState(id uuid.UUID, kind models.ChatKind, limit int, ttl *time.Duration, now time.Time) *state {
	log := events.NewLog()
	log.SetTTL(ttl)
	return &state{
		id:              id,
		kind:            kind,
		createdAt:       now,
		settingsUpdated: now,
		eventsTTL:       deltasync.NewTimestamped(ttl, now),
		members:         members.NewTable(limit),
		log:             log,
	}
}

// CreateGroup starts a group or channel owned by its creator.
func (m *Manager) CreateGroup(ctx context.Context, args CreateArgs) (*Entity, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	d := m.deps.Defaults
	limit := d.MemberLimit
	if args.MemberLimit != nil {
		limit = *args.MemberLimit
	}
	ttl := d.EventsTTL
	if args.EventsTTL != nil {
		ttl = args.EventsTTL
	}
	history := d.HistoryVisibleToNewJoiners
	if args.HistoryVisibleToNewJoiners != nil {
		history = *args.HistoryVisibleToNewJoiners
	}

	now := m.deps.Clock.Now()
	st := m.newState(uuid.Must(uuid.NewV7()), args.Kind, limit, ttl, now)
	st.name = args.Name
	st.public = args.Public
	st.history = visibility.Policy{HistoryVisibleToNewJoiners: history}
	if args.Rules != nil {
		st.rules = deltasync.NewTimestamped(*args.Rules, now)
	}
	if args.Gate != nil {
		g := *args.Gate
		st.gate = deltasync.NewTimestamped(&g, now)
	}

	e := newEntity(st, m.deps)
	call := Call{Caller: args.Creator, CorrelationID: args.CorrelationID}
	err := e.mutate(ctx, call, func(t *tx) error {
		res := st.members.Add(members.AddArgs{
			UserID: args.Creator,
			Role:   models.RoleOwner,
			Now:    t.now,
			Policy: visibility.Policy{HistoryVisibleToNewJoiners: true},
			Next:   visibility.Next(st.log),
		})
		if err := res.Err(); err != nil {
			return err
		}
		if st.rules.Value.Enabled {
			if err := st.members.AcceptRules(args.Creator, st.rules.Value.Version, t.now); err != nil {
				return err
			}
		}
		if _, err := e.push(t, events.Main, events.MemberJoined{UserID: args.Creator}); err != nil {
			return err
		}
		e.notify(t, notify.Notification{
			Kind:       notify.KindMemberJoined,
			UserID:     args.Creator,
			Recipients: []uuid.UUID{args.Creator},
		})
		return nil
	})
	if err != nil {
		e.Stop()
		return nil, err
	}

	m.insert(e)
	m.logger.Info("chat created",
		zap.Stringer("chat_id", st.id),
		zap.String("kind", string(args.Kind)),
		zap.Stringer("creator", args.Creator),
	)
	return e, nil
}

// Direct returns the direct chat between a and b, creating it on first
// use. Both users are members from the start and see its whole history.
func (m *Manager) Direct(ctx context.Context, a, b uuid.UUID) (*Entity, error) {
	if a == b || a == uuid.Nil || b == uuid.Nil {
		return nil, ErrSameParticipant
	}
	id := DirectChatID(a, b)

	e, err := m.Get(ctx, id)
	if !errors.Is(err, ErrChatNotFound) {
		return e, err
	}
	v, err, _ := m.loads.Do("direct:"+id.String(), func() (any, error) {
		if e, ok := m.cached(id); ok {
			return e, nil
		}
		e, err := m.load(ctx, id)
		if errors.Is(err, ErrChatNotFound) {
			e, err = m.createDirect(ctx, id, a, b)
		}
		if err != nil {
			return nil, err
		}
		return m.insert(e), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entity), nil
}

func (m *Manager) createDirect(ctx context.Context, id, a, b uuid.UUID) (*Entity, error) {
	now := m.deps.Clock.Now()
	st := m.newState(id, models.ChatKindDirect, 2, nil, now)
	st.participants = []uuid.UUID{a, b}
	if bytes.Compare(a[:], b[:]) > 0 {
		st.participants = []uuid.UUID{b, a}
	}
	for _, userID := range st.participants {
		st.members.Add(members.AddArgs{
			UserID: userID,
			Role:   models.RoleMember,
			Now:    now,
			Policy: visibility.Policy{HistoryVisibleToNewJoiners: true},
			Next:   visibility.Next(st.log),
		})
	}

	e := newEntity(st, m.deps)
	if err := e.save(ctx); err != nil {
		e.Stop()
		return nil, err
	}
	m.logger.Debug("direct chat created", zap.Stringer("chat_id", id))
	return e, nil
}

// Get returns a chat, loading it from the repository if needed.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Entity, error) {
	if e, ok := m.cached(id); ok {
		return e, nil
	}
	v, err, _ := m.loads.Do(id.String(), func() (any, error) {
		if e, ok := m.cached(id); ok {
			return e, nil
		}
		e, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		return m.insert(e), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entity), nil
}

func (m *Manager) cached(id uuid.UUID) (*Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	return e, ok
}

// insert registers e unless another entity for the same chat got there
// first, in which case e is stopped and the resident one returned.
func (m *Manager) insert(e *Entity) *Entity {
	m.mu.Lock()
	resident, ok := m.entities[e.id]
	if !ok {
		m.entities[e.id] = e
	}
	m.mu.Unlock()
	if ok {
		e.Stop()
		return resident
	}
	return e
}

// load reads a chat from the repository without registering it.
func (m *Manager) load(ctx context.Context, id uuid.UUID) (*Entity, error) {
	if m.deps.Repo == nil {
		return nil, ErrChatNotFound
	}
	snap, err := m.deps.Repo.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load chat %s: %w", id, err)
	}
	if snap == nil {
		return nil, ErrChatNotFound
	}
	records, err := m.deps.Repo.LoadEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load chat %s events: %w", id, err)
	}
	st, err := decodeState(snap.Data, records)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("chat loaded", zap.Stringer("chat_id", id), zap.Int("events", len(records)))
	return newEntity(st, m.deps), nil
}

func (m *Manager) Loaded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entities)
}

func (m *Manager) loaded() []*Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	return out
}

// Metrics merges the metrics of every loaded chat.
func (m *Manager) Metrics(ctx context.Context) (metrics.ChatMetrics, error) {
	var total metrics.ChatMetrics
	for _, e := range m.loaded() {
		partial, err := e.Metrics(ctx)
		if err != nil {
			return total, err
		}
		total = total.Merge(partial)
	}
	return total, nil
}

func (m *Manager) rollup() metrics.ChatMetrics {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	total, err := m.Metrics(ctx)
	if err != nil {
		m.logger.Warn("metrics rollup incomplete", zap.Error(err))
	}
	return total
}

// PruneTombstones drops member removal tombstones at or before cutoff in
// every loaded chat.
func (m *Manager) PruneTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for _, e := range m.loaded() {
		n, err := e.PruneTombstones(ctx, cutoff)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close stops every entity, flushing queued notifications.
func (m *Manager) Close() {
	m.mu.Lock()
	entities := m.entities
	m.entities = make(map[uuid.UUID]*Entity)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entities {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
		}()
	}
	wg.Wait()
}
