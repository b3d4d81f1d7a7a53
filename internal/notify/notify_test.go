package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/observ"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sample() Notification {
	mi := events.MessageIndex(3)
	return Notification{
		Kind:             KindDirectMessage,
		ChatID:           uuid.New(),
		ChatKind:         models.ChatKindDirect,
		UserID:           uuid.New(),
		At:               time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		LatestEventIndex: 7,
		Recipients:       []uuid.UUID{uuid.New(), uuid.New()},
		MessageIndex:     &mi,
		ContentType:      "text",
	}
}

func TestEncodeDecode(t *testing.T) {
	n := sample()
	data, err := n.Encode()
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewBus(1, zap.NewNop(), nil)
	fast := bus.Subscribe()
	slow := bus.Subscribe()
	ctx := context.Background()

	first := sample()
	require.NoError(t, bus.Publish(ctx, first))
	assert.Equal(t, first, <-fast)

	second := sample()
	require.NoError(t, bus.Publish(ctx, second), "a full subscriber never blocks Publish")
	assert.Equal(t, second, <-fast)
	assert.Equal(t, first, <-slow)

	bus.Unsubscribe(slow)
	_, open := <-slow
	assert.False(t, open)
}

func droppedTotal(t *testing.T, m *observ.Metrics) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "echocore_notifications_dropped_total" {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestBusCountsLossyDrops(t *testing.T) {
	m := observ.NewMetrics()
	bus := NewBus(1, zap.NewNop(), m)
	ch := bus.Subscribe()

	require.NoError(t, bus.Publish(context.Background(), sample()))
	require.NoError(t, bus.Publish(context.Background(), sample()))
	assert.Len(t, ch, 1)
	assert.Equal(t, float64(1), droppedTotal(t, m))
}

func TestBusLosslessSubscriberWaits(t *testing.T) {
	m := observ.NewMetrics()
	bus := NewBus(1, zap.NewNop(), m)
	ch := bus.SubscribeLossless()

	first, second := sample(), sample()
	require.NoError(t, bus.Publish(context.Background(), first))

	done := make(chan error, 1)
	go func() { done <- bus.Publish(context.Background(), second) }()
	select {
	case <-done:
		t.Fatal("publish returned while the subscriber was full")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, first, <-ch)
	require.NoError(t, <-done)
	assert.Equal(t, second, <-ch)
	assert.Zero(t, droppedTotal(t, m))
}

func TestBusLosslessSubscriberReportsTimeout(t *testing.T) {
	m := observ.NewMetrics()
	bus := NewBus(1, zap.NewNop(), m)
	ch := bus.SubscribeLossless()
	require.NoError(t, bus.Publish(context.Background(), sample()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, sample())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, ch, 1)
	assert.Equal(t, float64(1), droppedTotal(t, m))
}

func TestConsumeDeliversUntilClosed(t *testing.T) {
	bus := NewBus(4, zap.NewNop(), nil)
	ch := bus.Subscribe()
	var got []Kind
	h := HandlerFunc(func(_ context.Context, n Notification) error {
		got = append(got, n.Kind)
		return errors.New("ignored")
	})

	require.NoError(t, bus.Publish(context.Background(), Notification{Kind: KindActivity}))
	require.NoError(t, bus.Publish(context.Background(), Notification{Kind: KindMemberJoined}))
	bus.Unsubscribe(ch)

	Consume(context.Background(), ch, h, zap.NewNop())
	assert.Equal(t, []Kind{KindActivity, KindMemberJoined}, got)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Notification) error { return f.err }

func TestFanoutJoinsErrors(t *testing.T) {
	bus := NewBus(1, zap.NewNop(), nil)
	ch := bus.Subscribe()
	boom := errors.New("redis down")

	err := Fanout{failing{boom}, bus}.Publish(context.Background(), sample())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ch, 1, "later publishers still run")
}

func TestHubStreamsChatActivity(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chatID, userID := uuid.New(), uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, chatID, userID)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients(chatID) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Handle(context.Background(), Notification{Kind: KindActivity, ChatID: uuid.New(), LatestEventIndex: 1}))
	require.NoError(t, hub.Handle(context.Background(), Notification{Kind: KindActivity, ChatID: chatID, LatestEventIndex: 9}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, chatID, frame.ChatID)
	assert.Equal(t, events.EventIndex(9), frame.LatestEventIndex)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients(chatID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRedisChannelDefaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { rdb.Close() })

	assert.Equal(t, DefaultChannel, NewRedisPublisher(rdb, "").channel)
	assert.Equal(t, DefaultChannel, NewRedisSubscriber(rdb, "", zap.NewNop()).channel)
	assert.Equal(t, "custom", NewRedisPublisher(rdb, "custom").channel)
}
