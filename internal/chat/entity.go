// Package chat runs conversation entities. Each chat is owned by one
// Entity whose goroutine applies every command in turn, so handlers never
// race on chat state. The only work done off that goroutine is the
// external gate check, notification delivery and payouts.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/clock"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/lalith-99/echocore/internal/observ"
	"github.com/lalith-99/echocore/internal/payout"
	"github.com/lalith-99/echocore/internal/repository"
	"go.uber.org/zap"
)

const (
	persistTimeout   = 5 * time.Second
	publishTimeout   = 5 * time.Second
	defaultOutbox    = 256
	defaultReadLimit = 100
)

// Defaults are the settings applied to chats at creation, plus the read
// ceilings enforced on every window.
type Defaults struct {
	MemberLimit                int
	EventsTTL                  *time.Duration
	HistoryVisibleToNewJoiners bool
	MaxEventsPerRead           int
	MaxMessagesPerRead         int
}

// Deps are the collaborators shared by every entity of a Manager. Any of
// Repo, Publisher, Payouts and Metrics may be nil.
type Deps struct {
	Repo      repository.ChatRepository
	Publisher notify.Publisher
	Payouts   payout.Queue
	Checker   *gate.Checker
	Clock     clock.Clock
	Metrics   *observ.Metrics
	Logger    *zap.Logger
	Defaults  Defaults
	// OutboxSize bounds the notifications queued per entity.
	OutboxSize int
}

func (d *Deps) fill() {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Checker == nil {
		unconfigured := gate.VerifierFunc(func(context.Context, gate.Request) error {
			return &gate.InternalError{Detail: "no gate verifier configured"}
		})
		d.Checker = gate.NewChecker(unconfigured, "unconfigured", 0, d.Logger)
	}
	if d.OutboxSize <= 0 {
		d.OutboxSize = defaultOutbox
	}
	if d.Defaults.MaxEventsPerRead <= 0 {
		d.Defaults.MaxEventsPerRead = defaultReadLimit
	}
	if d.Defaults.MaxMessagesPerRead <= 0 {
		d.Defaults.MaxMessagesPerRead = defaultReadLimit
	}
}

// Call identifies who is invoking an operation. Callers are
// authenticated upstream.
type Call struct {
	Caller uuid.UUID
	// PlatformModerator grants freeze/unfreeze and the unblock-and-admit
	// join path.
	PlatformModerator bool
	CorrelationID     uint64
}

// Entity owns one chat.
type Entity struct {
	id     uuid.UUID
	kind   models.ChatKind
	deps   *Deps
	logger *zap.Logger

	st *state
	// unflushed holds records whose write failed. They are re-sent ahead
	// of the next step's records. Owned by the actor goroutine.
	unflushed []events.Record

	cmds      chan func()
	outbox    chan notify.Notification
	quit      chan struct{}
	stopped   chan struct{}
	delivered chan struct{}
	stopOnce  sync.Once
}

func newEntity(st *state, deps *Deps) *Entity {
	e := &Entity{
		id:        st.id,
		kind:      st.kind,
		deps:      deps,
		logger:    deps.Logger.Named("chat").With(zap.Stringer("chat_id", st.id)),
		st:        st,
		cmds:      make(chan func()),
		outbox:    make(chan notify.Notification, deps.OutboxSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		delivered: make(chan struct{}),
	}
	go e.run()
	go e.deliver()
	return e
}

func (e *Entity) ID() uuid.UUID {
	return e.id
}

func (e *Entity) Kind() models.ChatKind {
	return e.kind
}

func (e *Entity) run() {
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.quit:
			return
		}
	}
}

// deliver publishes queued notifications in commit order.
func (e *Entity) deliver() {
	defer close(e.delivered)
	for n := range e.outbox {
		if e.deps.Publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := e.deps.Publisher.Publish(ctx, n); err != nil {
			e.logger.Warn("failed to publish notification",
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Stop ends the actor after the command in progress, retries any event
// write that failed and waits for queued notifications to be published.
func (e *Entity) Stop() {
	e.stopOnce.Do(func() {
		close(e.quit)
		<-e.stopped
		if len(e.unflushed) > 0 && e.deps.Repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			e.persist(ctx, e.begin(Call{}))
			cancel()
		}
		close(e.outbox)
		<-e.delivered
	})
}

// do runs fn on the actor goroutine and waits for it to finish. Once fn
// has been accepted it always runs to completion, even if ctx is
// cancelled meanwhile. It satisfies gate.Runner.
func (e *Entity) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		fn()
	}
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEntityStopped
	}
	<-done
	return nil
}

// tx collects the effects of one serialized step.
type tx struct {
	call          Call
	now           time.Time
	records       []events.Record
	notifications []notify.Notification
	payouts       []payout.Item
	dirty         bool
}

func (e *Entity) begin(call Call) *tx {
	return &tx{call: call, now: e.deps.Clock.Now()}
}

// push appends to the log and records the event for persistence.
func (e *Entity) push(t *tx, stream events.StreamID, payload events.Payload) (events.Event, error) {
	ev, err := e.st.log.Push(stream, payload, t.call.CorrelationID, t.now)
	if err != nil {
		return ev, err
	}
	t.records = append(t.records, events.Record{ThreadRoot: stream.RootPtr(), Event: ev})
	t.dirty = true
	e.deps.Metrics.EventAppended(string(payload.Kind()))
	return ev, nil
}

func (e *Entity) notify(t *tx, n notify.Notification) {
	n.ChatID = e.id
	n.ChatKind = e.kind
	n.At = t.now
	n.LatestEventIndex = e.st.latestEventIndex()
	t.notifications = append(t.notifications, n)
}

// commit makes a step durable and announces it. Failures past this point
// cannot undo the step; they are logged.
func (e *Entity) commit(ctx context.Context, t *tx) {
	if !t.dirty {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	e.persist(ctx, t)
	e.enqueuePayouts(ctx, t.payouts)

	if len(t.records) > 0 {
		e.notify(t, notify.Notification{Kind: notify.KindActivity, UserID: t.call.Caller})
	}
	for _, n := range t.notifications {
		select {
		case e.outbox <- n:
		default:
			e.deps.Metrics.NotificationDropped()
			e.logger.Warn("outbox full, dropping notification", zap.String("kind", string(n.Kind)))
		}
	}
}

func (e *Entity) persist(ctx context.Context, t *tx) {
	if e.deps.Repo == nil {
		return
	}
	if !e.flush(ctx, t.records) {
		return
	}
	data, err := e.st.encode()
	if err != nil {
		e.deps.Metrics.PersistFailed()
		e.logger.Error("failed to encode chat snapshot", zap.Error(err))
		return
	}
	err = e.deps.Repo.SaveSnapshot(ctx, repository.Snapshot{
		ChatID:    e.id,
		Kind:      e.kind,
		Data:      data,
		UpdatedAt: t.now,
	})
	if err != nil {
		e.deps.Metrics.PersistFailed()
		e.logger.Error("failed to persist chat snapshot", zap.Error(err))
	}
}

// flush writes records after any left over from failed writes. On failure
// everything is kept for the next attempt and no snapshot may be written,
// since it would describe events the repository does not hold.
func (e *Entity) flush(ctx context.Context, records []events.Record) bool {
	pending := append(e.unflushed, records...)
	if len(pending) == 0 {
		return true
	}
	if err := e.deps.Repo.AppendEvents(ctx, e.id, pending); err != nil {
		e.unflushed = pending
		e.deps.Metrics.PersistFailed()
		e.logger.Error("failed to persist events",
			zap.Int("count", len(pending)),
			zap.Int("carried_over", len(pending)-len(records)),
			zap.Error(err),
		)
		return false
	}
	e.unflushed = nil
	return true
}

func (e *Entity) enqueuePayouts(ctx context.Context, items []payout.Item) {
	if len(items) == 0 || e.deps.Payouts == nil {
		return
	}
	if err := e.deps.Payouts.Enqueue(ctx, items...); err != nil {
		e.logger.Error("failed to queue payouts", zap.Int("count", len(items)), zap.Error(err))
	}
}

// mutate runs fn as one serialized step and commits whatever it changed,
// also when fn fails after pushing events.
func (e *Entity) mutate(ctx context.Context, call Call, fn func(t *tx) error) error {
	var err error
	runErr := e.do(ctx, func() {
		t := e.begin(call)
		err = fn(t)
		e.commit(ctx, t)
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// view runs a read-only fn on the actor goroutine.
func (e *Entity) view(ctx context.Context, fn func(s *state, now time.Time) error) error {
	var err error
	runErr := e.do(ctx, func() {
		err = fn(e.st, e.deps.Clock.Now())
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// save persists the current state without new events.
func (e *Entity) save(ctx context.Context) error {
	return e.do(ctx, func() {
		t := e.begin(Call{})
		t.dirty = true
		e.commit(ctx, t)
	})
}
