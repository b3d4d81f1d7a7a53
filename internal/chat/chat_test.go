package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/clock"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/lalith-99/echocore/internal/observ"
	"github.com/lalith-99/echocore/internal/payout"
	"github.com/lalith-99/echocore/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	owner = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	alice = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob   = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	carol = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	staff = uuid.MustParse("00000000-0000-0000-0000-0000000000ff")

	bg = context.Background()
)

type fixture struct {
	clock   *clock.Fake
	repo    *memory.Store
	bus     *notify.Bus
	payouts *payout.MemoryQueue
	metrics *observ.Metrics
	manager *Manager
}

func approveAll(context.Context, gate.Request) error { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewFake(t0),
		repo:    memory.New(),
		bus:     notify.NewBus(256, zap.NewNop(), nil),
		payouts: payout.NewMemoryQueue(),
		metrics: observ.NewMetrics(),
	}
	d := f.deps(approveAll)
	d.Metrics = f.metrics
	f.manager = NewManager(d)
	t.Cleanup(f.manager.Close)
	return f
}

func (f *fixture) deps(v gate.VerifierFunc) Deps {
	return Deps{
		Repo:      f.repo,
		Publisher: f.bus,
		Payouts:   f.payouts,
		Checker:   gate.NewChecker(v, "test", time.Second, zap.NewNop()),
		Clock:     f.clock,
		Logger:    zap.NewNop(),
	}
}

// reopen returns a second manager over the fixture's storage, checking
// gates with v.
func (f *fixture) reopen(t *testing.T, v gate.VerifierFunc) *Manager {
	t.Helper()
	m := NewManager(f.deps(v))
	t.Cleanup(m.Close)
	return m
}

func as(user uuid.UUID) Call {
	return Call{Caller: user}
}

func platform(user uuid.UUID) Call {
	return Call{Caller: user, PlatformModerator: true}
}

func text(body string) models.MessageContent {
	raw, _ := json.Marshal(body)
	return models.MessageContent{Type: "text", Body: raw}
}

func group(t *testing.T, m *Manager, public bool, opts ...func(*CreateArgs)) *Entity {
	t.Helper()
	args := CreateArgs{
		Creator:                    owner,
		Kind:                       models.ChatKindGroup,
		Name:                       "general",
		Public:                     public,
		HistoryVisibleToNewJoiners: ptr(true),
	}
	for _, o := range opts {
		o(&args)
	}
	e, err := m.CreateGroup(bg, args)
	require.NoError(t, err)
	return e
}

func join(t *testing.T, e *Entity, users ...uuid.UUID) {
	t.Helper()
	for _, u := range users {
		res, err := e.Join(bg, JoinArgs{Call: as(u)})
		require.NoError(t, err)
		require.Equal(t, Joined, res.Status)
	}
}

func send(t *testing.T, e *Entity, user uuid.UUID, body string) SendResult {
	t.Helper()
	res, err := e.Send(bg, SendArgs{Call: as(user), Content: text(body)})
	require.NoError(t, err)
	return res
}

func sendTo(t *testing.T, e *Entity, user uuid.UUID, root events.MessageIndex, body string) SendResult {
	t.Helper()
	res, err := e.Send(bg, SendArgs{Call: as(user), Thread: &root, Content: text(body)})
	require.NoError(t, err)
	return res
}

func message(t *testing.T, e *Entity, user uuid.UUID, mi events.MessageIndex) events.MessageView {
	t.Helper()
	resp, err := e.Messages(bg, ReadArgs{Call: as(user)}, []events.MessageIndex{mi})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	return resp.Messages[0]
}

func summary(t *testing.T, e *Entity, user uuid.UUID) Summary {
	t.Helper()
	s, err := e.Summary(bg, as(user))
	require.NoError(t, err)
	return s
}

// await returns the next notification of kind from ch.
func await(t *testing.T, ch <-chan notify.Notification, kind notify.Kind) notify.Notification {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-ch:
			if n.Kind == kind {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notification", kind)
			return notify.Notification{}
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
